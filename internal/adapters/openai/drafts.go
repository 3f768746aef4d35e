// Package openai generates reply drafts with the OpenAI chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"reputation_hub/internal/domain"
)

type Generator struct {
	client *goopenai.Client
	model  string
}

var _ domain.DraftGenerator = (*Generator)(nil)

var ErrNoAPIKey = errors.New("openai: api key not configured")

// New returns nil when key is empty; callers treat a nil generator as
// drafts being unavailable.
func New(key, model, baseURL string) *Generator {
	if key == "" {
		return nil
	}
	cfg := goopenai.DefaultConfig(key)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = goopenai.GPT4oMini
	}
	return &Generator{client: goopenai.NewClientWithConfig(cfg), model: model}
}

func (g *Generator) Generate(ctx context.Context, req domain.DraftRequest) (string, string, error) {
	if g == nil {
		return "", "", ErrNoAPIKey
	}
	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.4,
		MaxTokens:   350,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt(req)},
			{Role: goopenai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", errors.New("openai: empty completion")
	}
	body := strings.TrimSpace(resp.Choices[0].Message.Content)
	body = strings.Trim(body, `"`)
	if body == "" {
		return "", "", errors.New("openai: empty completion")
	}
	model := resp.Model
	if model == "" {
		model = g.model
	}
	return body, model, nil
}

func systemPrompt(req domain.DraftRequest) string {
	biz := req.BusinessName
	if biz == "" {
		biz = "the business"
	}
	switch req.Target {
	case domain.DraftForReview:
		return "You write public replies to Google reviews on behalf of " + biz + ". " +
			"Be warm, specific to what the reviewer said, and under 80 words. " +
			"For ratings of 3 stars or less, apologise and invite the reviewer to get in touch; " +
			"never promise refunds, discounts or compensation. Do not sign with a name. Reply with the text only."
	case domain.DraftForComment:
		return "You reply to public social media comments on behalf of " + biz + ". " +
			"Keep it to one or two friendly sentences. Reply with the text only."
	default:
		return "You answer direct messages on behalf of " + biz + ". " +
			"Be helpful and concise, answer the latest question, and do not invent opening hours, prices or policies. " +
			"Reply with the text only."
	}
}

func userPrompt(req domain.DraftRequest) string {
	var b strings.Builder
	if req.AuthorName != "" {
		fmt.Fprintf(&b, "From: %s\n", req.AuthorName)
	}
	if req.Rating != nil {
		fmt.Fprintf(&b, "Rating: %d/5\n", *req.Rating)
	}
	if len(req.Context) > 0 {
		b.WriteString("Earlier messages:\n")
		for _, c := range req.Context {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteByte('\n')
		}
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = "(no text, rating only)"
	}
	b.WriteString("Text: ")
	b.WriteString(text)
	return b.String()
}
