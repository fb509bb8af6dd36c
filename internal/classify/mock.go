package classify

import (
	"context"
	"errors"
	"sync"
)

// ErrExhausted is returned by a non-looping ScriptedClassifier once every
// queued verdict has been served.
var ErrExhausted = errors.New("scripted classifier: no verdicts remaining")

// ScriptedVerdict is one pre-arranged classification outcome.
type ScriptedVerdict struct {
	Result *Result
	Err    error
}

// Verdict builds a successful scripted outcome.
func Verdict(category string, confidence float64) ScriptedVerdict {
	return ScriptedVerdict{Result: &Result{Category: category, Confidence: confidence}}
}

// VerdictErr builds a failing scripted outcome.
func VerdictErr(err error) ScriptedVerdict {
	return ScriptedVerdict{Err: err}
}

// ScriptedClassifier serves queued verdicts in order. With Loop set the
// sequence repeats forever, which is what dev mode uses; otherwise running
// past the end returns ErrExhausted.
type ScriptedClassifier struct {
	mu sync.Mutex

	// Loop restarts the sequence once exhausted.
	Loop bool

	queue []ScriptedVerdict
	next  int
	calls []string
}

// NewScriptedClassifier creates a classifier serving the given verdicts.
func NewScriptedClassifier(verdicts ...ScriptedVerdict) *ScriptedClassifier {
	return &ScriptedClassifier{queue: verdicts}
}

// Classify returns the next scripted verdict and records the image path.
func (s *ScriptedClassifier) Classify(ctx context.Context, imagePath string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, imagePath)

	if s.next >= len(s.queue) {
		if !s.Loop || len(s.queue) == 0 {
			return nil, ErrExhausted
		}
		s.next = 0
	}

	v := s.queue[s.next]
	s.next++

	if v.Err != nil {
		return nil, v.Err
	}
	// Copy so callers cannot mutate the queued result.
	out := *v.Result
	return &out, nil
}

// Enqueue appends further verdicts to the sequence.
func (s *ScriptedClassifier) Enqueue(verdicts ...ScriptedVerdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, verdicts...)
}

// Calls returns the image paths classified so far.
func (s *ScriptedClassifier) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Reset clears recorded calls and restarts the sequence.
func (s *ScriptedClassifier) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next = 0
	s.calls = nil
}
