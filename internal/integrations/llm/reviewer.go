package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"shortssync/internal/domain"
	"shortssync/internal/logging"
)

const (
	DefaultModel   = "claude-3-5-haiku-latest"
	maxCaptionLen  = 500 // runes
	reviewMaxToken = 2048
)

const reviewSystemPrompt = `You screen short-video captions before they are republished on a brand channel.
Reject an item when its caption is sponsored or paid promotion, political or otherwise controversial,
or contains harassment, hate or sexual content. Keep everything else.
Respond with a JSON array only, one object per item:
[{"id": "<item id>", "reject": true|false, "reason": "<short reason when rejected>"}]`

// Flag is one item the reviewer asked to drop.
type Flag struct {
	ItemID string
	Reason string
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Reviewer screens selected items' captions with an Anthropic model.
type Reviewer struct {
	client anthropic.Client
	model  string
	logger logging.Logger
}

func NewReviewer(apiKey, model string, logger logging.Logger, opts ...option.RequestOption) *Reviewer {
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Reviewer{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: logger,
	}
}

type reviewDecision struct {
	ID     string `json:"id"`
	Reject bool   `json:"reject"`
	Reason string `json:"reason"`
}

// Screen returns the items the model kept, in their original order, and the
// flags for the ones it dropped. On error the input is returned unchanged.
func (r *Reviewer) Screen(ctx context.Context, channel string, items []domain.ScoredItem) ([]domain.ScoredItem, []Flag, error) {
	if len(items) == 0 {
		return items, nil, nil
	}

	text, usage, err := r.complete(ctx, reviewSystemPrompt, buildReviewPrompt(channel, items))
	if err != nil {
		return items, nil, err
	}
	decisions, err := parseReviewResponse(text)
	if err != nil {
		return items, nil, err
	}

	kept := make([]domain.ScoredItem, 0, len(items))
	var flags []Flag
	for _, it := range items {
		d, ok := decisions[it.ID]
		if ok && d.Reject {
			flags = append(flags, Flag{ItemID: it.ID, Reason: strings.TrimSpace(d.Reason)})
			continue
		}
		kept = append(kept, it)
	}
	r.logger.WithFields(logging.Fields{
		"channel":    channel,
		"model":      r.model,
		"items":      len(items),
		"rejected":   len(flags),
		"tokens_in":  usage.InputTokens,
		"tokens_out": usage.OutputTokens,
	}).Info("caption review finished")
	return kept, flags, nil
}

func (r *Reviewer) complete(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	message, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: reviewMaxToken,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

func buildReviewPrompt(channel string, items []domain.ScoredItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source channel: %s\n\nItems:\n", channel)
	for _, it := range items {
		caption := strings.TrimSpace(it.CaptionText)
		if utf8.RuneCountInString(caption) > maxCaptionLen {
			caption = string([]rune(caption)[:maxCaptionLen]) + "..."
		}
		if caption == "" {
			caption = "(no caption)"
		}
		fmt.Fprintf(&b, "- id=%s caption=%q\n", it.ID, caption)
	}
	return b.String()
}

func parseReviewResponse(responseText string) (map[string]reviewDecision, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var decoded []reviewDecision
	if err := json.Unmarshal([]byte(responseText), &decoded); err != nil {
		return nil, fmt.Errorf("parsing review response: %w (response: %s)", err, responseText)
	}
	out := make(map[string]reviewDecision, len(decoded))
	for _, d := range decoded {
		out[strings.TrimSpace(d.ID)] = d
	}
	return out, nil
}
