package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/domain/service"
	"AutoTrader/internal/service/ratelimit"
	"AutoTrader/internal/services/remote"
	xhttp "AutoTrader/pkg/http"
)

var ErrRateLimited = errors.New("verifier rate limit exceeded")

const (
	StyleOpenAI = "openai"
	StyleOllama = "ollama"
)

type ChatConfig struct {
	Name          string
	Style         string
	URL           string
	Model         string
	APIKey        string
	RatePerMinute float64
	Timeout       time.Duration
}

// ChatVerifier asks a chat-completion LLM endpoint to approve or reject a
// decision. Anything that is not a clear approval is a rejection.
type ChatVerifier struct {
	base    *remote.HTTPServiceBase
	cfg     ChatConfig
	limiter *ratelimit.Limiter
}

var _ service.Verifier = (*ChatVerifier)(nil)

func NewChatVerifier(cfg ChatConfig, limiter *ratelimit.Limiter) *ChatVerifier {
	var opts []xhttp.ClientOption
	if cfg.APIKey != "" {
		opts = append(opts, xhttp.WithHeader("Authorization", "Bearer "+cfg.APIKey))
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	return &ChatVerifier{
		base:    remote.NewHTTPServiceBase("verifier_"+cfg.Name, cfg.URL, cfg.Timeout, opts...),
		cfg:     cfg,
		limiter: limiter,
	}
}

func (v *ChatVerifier) Name() string { return v.cfg.Name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      *bool         `json:"stream,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type ollamaResponse struct {
	Message chatMessage `json:"message"`
}

const systemPrompt = "You review automated crypto trades. Answer APPROVE or REJECT followed by one short sentence."

func (v *ChatVerifier) Verify(ctx context.Context, d models.Decision) (bool, error) {
	if v.cfg.RatePerMinute > 0 && !v.limiter.AllowPerMinute(v.cfg.Name, v.cfg.RatePerMinute) {
		return false, ErrRateLimited
	}

	req := chatRequest{
		Model: v.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: Prompt(d)},
		},
		Temperature: 0.1,
	}

	var content string
	switch v.cfg.Style {
	case StyleOllama:
		stream := false
		req.Stream = &stream
		var resp ollamaResponse
		if err := v.base.PostJSON(ctx, "", req, &resp); err != nil {
			return false, err
		}
		content = resp.Message.Content
	default:
		req.MaxTokens = 100
		var resp openAIResponse
		if err := v.base.PostJSON(ctx, "", req, &resp); err != nil {
			return false, err
		}
		if len(resp.Choices) == 0 {
			return false, fmt.Errorf("%s: empty completion", v.cfg.Name)
		}
		content = resp.Choices[0].Message.Content
	}
	return Approves(content), nil
}

// Prompt renders a decision for the verifier.
func Prompt(d models.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Market: %s\nProposed action: %s\nConfidence: %.2f\n", d.Market, d.Action, d.Confidence)
	b.WriteString("Engine votes:\n")
	for _, e := range d.Engines {
		fmt.Fprintf(&b, "- %s: %s (%.2f) %s\n", e.Engine, e.Action, e.Confidence, e.Detail)
	}
	fmt.Fprintf(&b, "Rationale: %s\nShould this trade be executed?", d.Rationale)
	return b.String()
}

var (
	rejectWords  = map[string]bool{"reject": true, "rejected": true, "no": true, "not": true, "deny": true, "denied": true, "decline": true, "declined": true, "hold": true, "avoid": true}
	approveWords = map[string]bool{"approve": true, "approved": true, "yes": true, "execute": true, "confirm": true, "confirmed": true}
)

// Approves reads a free-text verdict. Any rejection word wins; no approval
// word means rejection.
func Approves(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	approved := false
	for _, w := range words {
		if rejectWords[w] {
			return false
		}
		if approveWords[w] {
			approved = true
		}
	}
	return approved
}
