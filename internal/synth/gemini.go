package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

const geminiSystemPrompt = `You are a business strategy analyst. Given an organization's current knowledge, its latest guided-journey responses, and the factual updates already extracted from them, produce a strategic assessment.

Respond with a single JSON object with exactly these fields:
  marketPosition: string, one or two sentences on where the organization sits in its market
  competitiveAdvantages: array of short strings
  growthStrategy: string, the most promising growth direction
  riskFactors: array of short strings
  growthIndicators: array of short strings
  confidence: number between 0 and 1 for the assessment as a whole

Use an empty string or empty array for any field you lack signal for. Do not invent facts that contradict the provided context.`

// Gemini synthesizes strategic insight through the Gemini API.
//
// Requests run in JSON mode so the model returns a parseable object. Any
// transport, parse, or deadline failure surfaces as UnavailableError; the
// caller bounds the call with its context deadline.
type Gemini struct {
	client *genai.Client
	model  string
}

// GeminiOption configures a Gemini synthesizer.
type GeminiOption func(*Gemini)

// WithModel overrides the default model.
func WithModel(model string) GeminiOption {
	return func(g *Gemini) {
		if model != "" {
			g.model = model
		}
	}
}

// NewGemini creates a Gemini-backed synthesizer.
func NewGemini(ctx context.Context, apiKey string, opts ...GeminiOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	g := &Gemini{
		client: client,
		model:  DefaultGeminiModel,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name identifies the provider in errors and logs.
func (g *Gemini) Name() string {
	return "genai:" + g.model
}

// Synthesize sends the organizational context to Gemini and parses the
// structured response.
func (g *Gemini) Synthesize(ctx context.Context, req *Request) (*Response, error) {
	result, err := g.client.Models.GenerateContent(ctx,
		g.model,
		genai.Text(buildPrompt(req)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(geminiSystemPrompt, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			Temperature:       genai.Ptr[float32](0.2),
		},
	)
	if err != nil {
		return nil, &UnavailableError{Provider: g.Name(), Cause: err}
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return nil, &UnavailableError{Provider: g.Name(), Cause: fmt.Errorf("empty completion")}
	}

	resp, err := parseResponse(text)
	if err != nil {
		return nil, &UnavailableError{Provider: g.Name(), Cause: err}
	}
	return resp, nil
}

// buildPrompt renders the request as deterministic sections. Map iteration
// is sorted so identical requests produce identical prompts.
func buildPrompt(req *Request) string {
	var b strings.Builder

	b.WriteString("Organization: ")
	b.WriteString(req.OrgID)
	b.WriteString("\n\nCurrent knowledge:\n")
	writeSortedMap(&b, req.Context)

	b.WriteString("\nJourney responses:\n")
	writeSortedMap(&b, req.Responses)

	b.WriteString("\nPending direct updates:\n")
	writeCandidates(&b, req.DirectCandidates)

	b.WriteString("\nPending derived updates:\n")
	writeCandidates(&b, req.DerivedCandidates)

	return b.String()
}

func writeSortedMap(b *strings.Builder, m map[string]string) {
	if len(m) == 0 {
		b.WriteString("  (none)\n")
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "  %s: %s\n", k, m[k])
	}
}

func writeCandidates(b *strings.Builder, candidates []Candidate) {
	if len(candidates) == 0 {
		b.WriteString("  (none)\n")
		return
	}
	for _, c := range candidates {
		fmt.Fprintf(b, "  %s: %s (confidence %.2f)\n", c.Field, c.Value, c.Confidence)
	}
}

// parseResponse decodes the model output, tolerating code fences some
// models still emit around JSON.
func parseResponse(text string) (*Response, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var resp Response
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("parse completion: %w", err)
	}
	resp.Normalize()
	return &resp, nil
}
