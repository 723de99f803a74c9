// Package llm produces free-text replies for messages the router could
// not classify.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/genai"

	appLog "tradein/internal/log"
)

const (
	DefaultModel   = "gemini-2.0-flash"
	defaultTimeout = 20 * time.Second
	maxReplyTokens = int32(400)
)

var ErrEmptyReply = errors.New("llm: empty reply")

// Model is the slice of *genai.Models the narrator calls.
type Model interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Options struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	// Attempts bounds retries on transient API errors.
	Attempts uint
	Delay    time.Duration
	// ContactPhone is offered when the customer asks for a person.
	ContactPhone string
}

// Narrator answers off-script messages in one short paragraph, steering
// the customer back to an appraisal or an appointment.
type Narrator struct {
	model Model
	opts  Options
}

// NewGemini builds a narrator on the Gemini API.
func NewGemini(ctx context.Context, opts Options) (*Narrator, error) {
	if opts.APIKey == "" {
		return nil, errors.New("llm: gemini api key missing")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  opts.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create genai client: %w", err)
	}
	return New(client.Models, opts), nil
}

func New(m Model, opts Options) *Narrator {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	opts.Model = strings.TrimPrefix(opts.Model, "models/")
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.Delay <= 0 {
		opts.Delay = 200 * time.Millisecond
	}
	return &Narrator{model: m, opts: opts}
}

func (n *Narrator) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are the assistant of a car dealership. You help customers get a trade-in estimate for their vehicle ")
	b.WriteString("and book an in-person appraisal appointment. Answer in one short, friendly paragraph of plain text. ")
	b.WriteString("Never promise a price or an appointment time; instead tell the customer they can say \"trade in\" ")
	b.WriteString("for an estimate or \"show availability\" to see open appointment times.")
	if n.opts.ContactPhone != "" {
		b.WriteString(" If they want to talk to a person, give them the phone number ")
		b.WriteString(n.opts.ContactPhone)
		b.WriteString(".")
	}
	return b.String()
}

// Reply asks the model for an answer to text.
func (n *Narrator) Reply(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	temperature := float32(0.4)
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: n.systemPrompt()}}},
		Temperature:       &temperature,
		MaxOutputTokens:   maxReplyTokens,
	}
	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: text}}},
	}

	started := time.Now()
	var resp *genai.GenerateContentResponse
	err := retry.Do(
		func() error {
			var err error
			resp, err = n.model.GenerateContent(ctx, n.opts.Model, contents, config)
			if err != nil && !isTransient(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(n.opts.Attempts),
		retry.Delay(n.opts.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			appLog.Debug("retrying gemini call", "attempt", attempt+1, "error", err.Error())
		}),
	)
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	reply := replyText(resp)
	if reply == "" {
		return "", ErrEmptyReply
	}
	appLog.Info("narrator replied", "model", n.opts.Model, "chars", len(reply), "elapsed", time.Since(started).String())
	return reply, nil
}

func replyText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range c.Content.Parts {
		if p != nil && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "quota", "unavailable", "internal", "429", "500", "502", "503", "504"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
