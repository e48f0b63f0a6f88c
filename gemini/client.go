package gemini

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultModel is the conversational model used when none is configured
	DefaultModel = "gemini-1.5-pro-latest"
	// DefaultBaseURL is the Generative Language API endpoint
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultTimeout bounds one generateContent round trip
	DefaultTimeout = 120 * time.Second
)

// initialAck is the canned model turn that closes the seeded history, so the
// conversation starts with the ground rules already acknowledged
const initialAck = "Understood. I have received the initial instructions and the 'Scorbot ACL Reference Manual' if it was uploaded successfully. I will refer to it for command details. I am ready to assist with controlling the Scorbot ER VII using `<SERIAL_CMD>COMMAND</SERIAL_CMD>` and `<REQUEST_IMAGE/>` tags. Please provide serial responses prefixed with '[SERIAL_RX]: ' and images when requested."

// ErrNoReply is returned when the API answers without usable text, either an
// empty candidate list or a safety block
var ErrNoReply = errors.New("no reply from model")

// Config holds the client settings. Zero values fall back to the defaults
// above; APIKey has no default.
type Config struct {
	APIKey       string
	Model        string
	BaseURL      string
	SystemPrompt string
	ManualPath   string
	Timeout      time.Duration
}

// Client is a conversational client for the generateContent API. It keeps
// the rolling chat history so every call carries the full context, including
// the seeded system prompt and reference manual.
type Client struct {
	cfg     Config
	hc      *http.Client
	history []content
	logger  *zap.SugaredLogger
	mu      sync.Mutex
}

// Wire shapes for the generateContent request and response
type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// NewClient creates a client and seeds the chat history: the system prompt
// as the first user turn, the reference manual attached inline when
// configured and readable, then the canned acknowledgement as the first
// model turn. A missing manual is a warning, not a failure.
func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		l, _ := zap.NewDevelopment()
		logger = l.Sugar()
	}

	c := &Client{
		cfg:    cfg,
		hc:     &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}

	seed := []part{{Text: cfg.SystemPrompt}}
	if cfg.ManualPath != "" {
		if manual, err := manualPart(cfg.ManualPath); err != nil {
			c.logger.Warnf("Reference manual %s not attached: %s", cfg.ManualPath, err)
		} else {
			seed = append(seed, manual)
			c.logger.Infof("Attached reference manual %s to the initial prompt", cfg.ManualPath)
		}
	}

	c.history = []content{
		{Role: "user", Parts: seed},
		{Role: "model", Parts: []part{{Text: initialAck}}},
	}
	return c
}

// manualPart loads the reference manual as an inline attachment
func manualPart(path string) (part, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return part{}, err
	}

	mime := "text/plain"
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		mime = "application/pdf"
	}
	return part{InlineData: &inlineData{
		MIMEType: mime,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}, nil
}

// HistoryLen returns the number of turns in the rolling history
func (c *Client) HistoryLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// Converse sends one user turn built from up to three parts: free text, a
// JPEG to attach, and a serial annotation. The model's text comes back
// verbatim; both turns join the rolling history only on success. An
// unreadable image degrades to a note so the model knows it never arrived.
// Calls serialize on the client, so history grows in call order.
func (c *Client) Converse(userText, imagePath, serialNote string) (string, error) {
	var parts []part
	if userText != "" {
		parts = append(parts, part{Text: userText})
	}
	if imagePath != "" {
		if data, err := os.ReadFile(imagePath); err != nil {
			c.logger.Warnf("Could not load image %s: %s", imagePath, err)
			parts = append(parts, part{Text: fmt.Sprintf("[System Note: Failed to load image: %s]", imagePath)})
		} else {
			parts = append(parts, part{InlineData: &inlineData{
				MIMEType: "image/jpeg",
				Data:     base64.StdEncoding.EncodeToString(data),
			}})
		}
	}
	if serialNote != "" {
		parts = append(parts, part{Text: serialNote})
	}
	if len(parts) == 0 {
		return "", errors.New("nothing to send")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	userTurn := content{Role: "user", Parts: parts}
	req := generateRequest{Contents: append(append([]content{}, c.history...), userTurn)}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.cfg.BaseURL, c.cfg.Model, url.QueryEscape(c.cfg.APIKey))

	c.logger.Debugf("Sending %d part(s) to %s (%d turns of history)", len(parts), c.cfg.Model, len(c.history))
	resp, err := c.hc.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("call %s: %w", c.cfg.Model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned %s: %s", c.cfg.Model, resp.Status, snippet(raw))
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	text := candidateText(decoded)
	if text == "" {
		if decoded.PromptFeedback != nil && decoded.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("%w: blocked (%s)", ErrNoReply, decoded.PromptFeedback.BlockReason)
		}
		return "", ErrNoReply
	}

	c.history = append(c.history, userTurn)
	c.history = append(c.history, content{Role: "model", Parts: []part{{Text: text}}})
	return text, nil
}

// candidateText joins the text parts of the first candidate
func candidateText(r generateResponse) string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// snippet trims an error body for logging
func snippet(raw []byte) string {
	const max = 512
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
