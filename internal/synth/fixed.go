package synth

import (
	"context"
	"sync"
)

// Fixed returns a predetermined response for every request.
//
// This enables deterministic pipeline runs: harness scenarios and tests
// configure the exact strategic output and assert on the merged result.
//
// Thread-safety: Fixed is safe for concurrent use via internal mutex.
type Fixed struct {
	mu       sync.Mutex
	response Response
	cause    error
	requests []*Request
}

// NewFixed creates a synthesizer that always succeeds with resp.
func NewFixed(resp Response) *Fixed {
	return &Fixed{response: resp}
}

// Fail makes every subsequent call return an UnavailableError wrapping
// cause, simulating an outage.
func (f *Fixed) Fail(cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cause = cause
}

// Recover clears a previous Fail so calls succeed again.
func (f *Fixed) Recover() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cause = nil
}

// Synthesize records the request and returns the canned response.
func (f *Fixed) Synthesize(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &UnavailableError{Provider: "fixed", Cause: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.cause != nil {
		return nil, &UnavailableError{Provider: "fixed", Cause: f.cause}
	}

	resp := f.response
	resp.Normalize()
	return &resp, nil
}

// Requests returns a copy of every request seen so far.
func (f *Fixed) Requests() []*Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// Calls returns how many times Synthesize has been invoked.
func (f *Fixed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
