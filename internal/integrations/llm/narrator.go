// Package llm writes an optional one-paragraph narrative for dashboard
// digests using the Anthropic Messages API.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"vadash/internal/dashboard"
	"vadash/internal/httpx"
)

const (
	DefaultModel       = "claude-sonnet-4-5-20250929"
	maxNarrativeTokens = 400
	maxNarrativeChars  = 800
	promptTopCauses    = 5
	promptTrendMonths  = 6
)

type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

type completeFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error)

// Narrator summarises snapshots. It is safe for concurrent use.
type Narrator struct {
	model    string
	logger   *zap.SugaredLogger
	complete completeFunc
}

func New(apiKey, model string, logger *zap.SugaredLogger) *Narrator {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	n := &Narrator{model: model, logger: logger}
	client := anthropic.NewClient(option.WithAPIKey(apiKey), option.WithHTTPClient(httpx.Client()))
	n.complete = func(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
		return callAnthropic(ctx, client, n.model, systemPrompt, userPrompt, n.logger)
	}
	return n
}

// Narrate returns a short plain-text reading of snap. An empty dataset
// yields an empty narrative without calling the API.
func (n *Narrator) Narrate(ctx context.Context, snap dashboard.Snapshot) (string, Usage, error) {
	if snap.ActiveVAs == 0 {
		return "", Usage{}, nil
	}
	systemPrompt, userPrompt := BuildPrompts(snap)
	text, usage, err := n.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", usage, err
	}
	return cleanNarrative(text), usage, nil
}

func callAnthropic(ctx context.Context, client anthropic.Client, model, systemPrompt, userPrompt string, logger *zap.SugaredLogger) (string, Usage, error) {
	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxNarrativeTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		logger.Errorf("llm anthropic error: %v", err)
		return "", Usage{}, fmt.Errorf("anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			logger.Infof("llm anthropic response size=%d tokens_in=%d tokens_out=%d cache_create=%d cache_read=%d",
				len(block.Text), usage.InputTokens, usage.OutputTokens, usage.CacheCreationInputTokens, usage.CacheReadInputTokens)
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

const systemPrompt = `You summarise verbal autopsy (VA) dashboard figures for public health staff.
Write 2 to 4 plain sentences. Use only the figures given. Do not speculate about causes
beyond the data, do not give medical advice, and say so plainly when the sample is small.
No markdown, no bullet points, no greeting.`

// BuildPrompts renders the snapshot figures the narrative may draw on.
func BuildPrompts(snap dashboard.Snapshot) (string, string) {
	var b strings.Builder
	h := snap.Highlights

	fmt.Fprintf(&b, "Coded VAs matching filters: %d\n", h.CodedVAs)
	fmt.Fprintf(&b, "Uncoded VAs: %d\n", h.UncodedVAs)
	fmt.Fprintf(&b, "Active facilities: %d\n", h.ActiveFacilities)
	if h.LastInterview != "" {
		fmt.Fprintf(&b, "Last interview: %s\n", h.LastInterview)
	}
	if f := snap.Criteria.Describe("%s=%s"); f != "" {
		fmt.Fprintf(&b, "Filters: %s\n", f)
	}
	if snap.SmallSample {
		b.WriteString("Warning: small sample, figures may not be representative.\n")
	}

	if len(snap.CODGrouping) > 0 {
		b.WriteString("\nLeading causes of death:\n")
		for i, row := range snap.CODGrouping {
			if i == promptTopCauses {
				break
			}
			fmt.Fprintf(&b, "- %s: %d (%.1f%%)\n", row.Key, row.Count, row.Percent)
		}
	}

	if len(snap.CODTrend) > 0 {
		b.WriteString("\nDeaths by month:\n")
		trend := snap.CODTrend
		if len(trend) > promptTrendMonths {
			trend = trend[len(trend)-promptTrendMonths:]
		}
		for _, p := range trend {
			fmt.Fprintf(&b, "- %s: %d\n", p.Month.Format("Jan 2006"), p.Count)
		}
	}

	if len(snap.PlaceOfDeath) > 0 {
		b.WriteString("\nPlace of death:\n")
		for _, row := range snap.PlaceOfDeath {
			fmt.Fprintf(&b, "- %s: %d\n", row.Label, row.Count)
		}
	}
	return systemPrompt, b.String()
}

// cleanNarrative flattens the reply to one paragraph and caps its length.
func cleanNarrative(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	text = strings.Trim(text, `"`)
	if r := []rune(text); len(r) > maxNarrativeChars {
		text = strings.TrimSpace(string(r[:maxNarrativeChars])) + "…"
	}
	return text
}
