package testutil

import (
	"fmt"
	"sync"
)

// IDSequence generates "prefix-1", "prefix-2", ... in order. It satisfies
// the journey engine's IDGenerator interface and never exhausts, unlike a
// fixed list, so scenarios do not need to know how many IDs they consume.
//
// Thread-safety: Generate is safe for concurrent use.
type IDSequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDSequence creates a sequence with the given prefix.
func NewIDSequence(prefix string) *IDSequence {
	return &IDSequence{prefix: prefix}
}

// Generate returns the next ID in the sequence.
func (s *IDSequence) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}
