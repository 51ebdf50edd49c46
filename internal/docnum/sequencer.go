// Package docnum generates yearly document numbers such as ITR-2025-0001.
package docnum

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/custody/internal/property"
)

// MaxFunc returns the highest stored sequence for numbers starting with prefix.
type MaxFunc func(ctx context.Context, prefix string) (int, error)

// Sequencer hands out {KIND}-{YYYY}-{SEQ} numbers. The next sequence is one
// above the larger of the stored maximum and the last number this process
// issued for the year.
type Sequencer struct {
	kind string
	max  MaxFunc

	mu   sync.Mutex
	last map[int]int
}

// New constructs a Sequencer for kind, e.g. "ITR".
func New(kind string, max MaxFunc) *Sequencer {
	return &Sequencer{kind: kind, max: max, last: make(map[int]int)}
}

// Prefix returns the number prefix of kind for year.
func Prefix(kind string, year int) string {
	return fmt.Sprintf("%s-%d-", kind, year)
}

// Format renders a document number.
func Format(kind string, year, seq int) string {
	return fmt.Sprintf("%s%04d", Prefix(kind, year), seq)
}

// Parse splits a document number of kind into year and sequence.
func Parse(kind, number string) (year, seq int, ok bool) {
	rest, found := strings.CutPrefix(number, kind+"-")
	if !found {
		return 0, 0, false
	}
	y, s, found := strings.Cut(rest, "-")
	if !found {
		return 0, 0, false
	}
	year, err := strconv.Atoi(y)
	if err != nil {
		return 0, 0, false
	}
	seq, err = strconv.Atoi(s)
	if err != nil {
		return 0, 0, false
	}
	return year, seq, true
}

// Next reserves the next number for the year of at.
func (s *Sequencer) Next(ctx context.Context, at time.Time) (string, error) {
	year := at.Year()
	stored, err := s.max(ctx, Prefix(s.kind, year))
	if err != nil {
		return "", fmt.Errorf("docnum: max %s sequence: %w", s.kind, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := stored
	if s.last[year] > next {
		next = s.last[year]
	}
	next++
	s.last[year] = next
	return Format(s.kind, year, next), nil
}

// Insert calls fn with freshly generated numbers until it succeeds, fails
// with anything but a unique violation, or attempts run out.
func (s *Sequencer) Insert(ctx context.Context, at time.Time, attempts int, fn func(number string) error) (string, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		number, err := s.Next(ctx, at)
		if err != nil {
			return "", err
		}
		err = fn(number)
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, property.ErrUniqueViolation) {
			s.release(at.Year(), number)
			return "", err
		}
		lastErr = err
	}
	return "", &property.ConflictError{
		Entity: s.kind,
		ID:     Prefix(s.kind, at.Year()) + "*",
		Detail: fmt.Sprintf("no free number after %d attempts", attempts),
		Err:    lastErr,
	}
}

// release hands back a number that was reserved but never stored, unless a
// later number has been reserved since.
func (s *Sequencer) release(year int, number string) {
	_, seq, ok := Parse(s.kind, number)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last[year] == seq {
		s.last[year] = seq - 1
	}
}
