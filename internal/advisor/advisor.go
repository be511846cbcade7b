package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"consultation-service/internal/config"
	"consultation-service/internal/model"
	"github.com/sirupsen/logrus"
)

// ErrUnavailable means the advisory collaborator could not produce a
// response. Callers recover locally with FallbackMessage; billing never sees
// this error.
var ErrUnavailable = errors.New("advisory service unavailable")

// FallbackMessage is surfaced to the transcript when the advisor fails.
const FallbackMessage = "The connection to the cosmos is weak. Please try again."

// Greeting opens every fresh session transcript.
func Greeting(name string) string {
	return fmt.Sprintf("Namaste %s. I am Rishi. How may I guide you today?", name)
}

const systemPrompt = `You are "Rishi", a world-renowned Vedic Astrologer with 30 years of experience.
Your goal is to provide insightful, empathetic, and mystical readings.

Tone:
- Wise, calm, and reassuring.
- Use some Vedic terminology (e.g., Karma, Dharma, Graha, Dosha) but explain them simply.
- Be concise but profound.

Constraints:
- Never give medical or legal advice.
- If a user asks for lottery numbers, politely decline citing karma.
- Keep responses under 100 words unless asked for a detailed reading.
- Always address the user by their name if known.

Current User Context:
`

// Advisor produces consultation responses. Opaque to the rest of the
// system: it either returns text or fails with ErrUnavailable.
type Advisor interface {
	SendMessage(ctx context.Context, user *model.UserLedger, text string) (string, error)
}

// Client talks to a Gemini-style generateContent endpoint.
type Client struct {
	cfg        config.AdvisorConfig
	httpClient *http.Client
	log        *logrus.Logger
}

func NewClient(cfg config.AdvisorConfig, log *logrus.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

type generateRequest struct {
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
	Contents          []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *Client) SendMessage(ctx context.Context, user *model.UserLedger, text string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("advisor api key missing: %w", ErrUnavailable)
	}

	userContext := fmt.Sprintf("Name: %s\nDOB: %s\nTime: %s\nPlace: %s\nZodiac: %s\n",
		user.Name, user.DateOfBirth, user.TimeOfBirth, user.PlaceOfBirth, user.ZodiacSign)

	reqBody := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: systemPrompt + userContext}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: text}}}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal advisor request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build advisor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).Warn("advisor request failed")
		return "", fmt.Errorf("advisor request: %w", ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.WithField("status", resp.StatusCode).Warn("advisor returned non-200")
		return "", fmt.Errorf("advisor status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode advisor response: %w", ErrUnavailable)
	}

	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty advisor response: %w", ErrUnavailable)
	}

	return out.Candidates[0].Content.Parts[0].Text, nil
}
