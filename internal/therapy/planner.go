// Package therapy turns a scored transcript into a written practice plan
// using a generative text provider.
package therapy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/speakaura/pkg/provider/llm"
	"github.com/MrWong99/speakaura/pkg/types"
)

// ErrEmptyPlan is returned when the provider answered with no text.
var ErrEmptyPlan = errors.New("therapy: provider returned an empty plan")

// systemPrompt frames every plan request.
const systemPrompt = `You are a supportive speech therapist assistant. You help people who stutter
or have other fluency disorders with practical exercises they can do at home.
Answer in a professional, friendly and encouraging tone.`

// guidelines is appended after the transcript and metrics. The clean-speech
// rule mirrors the counts the metrics JSON exposes by name.
const guidelines = `Guidelines:
- If severity_score < 0.2 AND filler_count + repetitions + long_pauses == 0:
    Congratulate the speaker, say their speech is clear, and recommend only
    light practice (like reading aloud daily for 5 minutes). Keep the response
    short, clear and motivating.
- Otherwise give a concise therapy plan with:
    - Key focus areas
    - 4-5 practical exercises
    - Suggested frequency (daily/weekly)
    - A motivating tone
- Avoid overwhelming or boring text; use bullet points if needed.`

// Planner generates therapy plans with an [llm.Provider].
type Planner struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

// Option is a functional option for [NewPlanner].
type Option func(*Planner)

// WithTemperature overrides the sampling temperature. Default: 0.3.
func WithTemperature(t float64) Option {
	return func(p *Planner) { p.temperature = t }
}

// WithMaxTokens caps the plan length. Zero leaves it to the provider.
func WithMaxTokens(n int) Option {
	return func(p *Planner) { p.maxTokens = n }
}

// NewPlanner creates a [Planner] backed by provider.
func NewPlanner(provider llm.Provider, opts ...Option) *Planner {
	p := &Planner{llm: provider, temperature: 0.3}
	for _, o := range opts {
		o(p)
	}
	return p
}

// GeneratePlan asks the provider for a plan tailored to transcript and m.
func (p *Planner) GeneratePlan(ctx context.Context, transcript string, m types.SpeechMetrics) (string, error) {
	prompt, err := BuildPrompt(transcript, m)
	if err != nil {
		return "", err
	}

	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{llm.UserMessage(prompt)},
		Temperature:  p.temperature,
		MaxTokens:    p.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("therapy: generate plan: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyPlan
	}
	return strings.TrimSpace(resp.Content), nil
}

// BuildPrompt renders the user prompt for one transcript.
func BuildPrompt(transcript string, m types.SpeechMetrics) (string, error) {
	metrics, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("therapy: encode metrics: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Analyze the transcript and metrics below to decide therapy suggestions.\n\n")
	sb.WriteString("Transcript:\n")
	sb.WriteString(transcript)
	sb.WriteString("\n\nMetrics (JSON):\n")
	sb.Write(metrics)
	sb.WriteString("\n\n")
	sb.WriteString(guidelines)
	return sb.String(), nil
}

// ModelID returns the model of the underlying provider.
func (p *Planner) ModelID() string { return p.llm.ModelID() }
