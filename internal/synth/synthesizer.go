// Package synth produces strategic knowledge candidates from organizational
// context. Implementations are string-in, JSON-out: the enrichment pipeline
// renders knowledge and candidates to text before calling, and maps the
// structured response back onto knowledge fields.
package synth

import (
	"context"
)

// DefaultConfidence is assumed when a synthesizer reports no confidence.
const DefaultConfidence = 0.5

// Candidate is a pending knowledge update included in the request so the
// synthesizer sees what the cheaper layers already extracted.
type Candidate struct {
	Field      string
	Value      string
	Confidence float64
}

// Request carries everything a synthesizer may condition on.
type Request struct {
	OrgID string

	// Context is the current knowledge summary, field name to rendered value.
	Context map[string]string

	// Responses aggregates the completed journey's payload, field to value.
	Responses map[string]string

	DirectCandidates  []Candidate
	DerivedCandidates []Candidate
}

// Response is the structured strategic output. Empty strings and empty
// slices mean the synthesizer had too little signal for that field; the
// pipeline drops them.
type Response struct {
	MarketPosition        string   `json:"marketPosition"`
	CompetitiveAdvantages []string `json:"competitiveAdvantages"`
	GrowthStrategy        string   `json:"growthStrategy"`
	RiskFactors           []string `json:"riskFactors"`
	GrowthIndicators      []string `json:"growthIndicators"`
	Confidence            float64  `json:"confidence"`
}

// Normalize clamps the reported confidence into (0, 1], substituting
// DefaultConfidence when it is unreported or out of range.
func (r *Response) Normalize() {
	if r.Confidence <= 0 || r.Confidence > 1 {
		r.Confidence = DefaultConfidence
	}
}

// Synthesizer generates strategic insight from organizational context.
//
// Implementations must honor ctx cancellation; the pipeline calls with a
// bounded deadline and treats timeouts as the synthesizer being unavailable.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to the Synthesizer interface.
type Func func(ctx context.Context, req *Request) (*Response, error)

// Synthesize calls f.
func (f Func) Synthesize(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
