package phase

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrConfig is the class of all phase configuration failures.
	// It is fatal at startup: the scheduler must not run with an invalid table.
	ErrConfig = errors.New("invalid phase configuration")

	ErrEmpty        = fmt.Errorf("%w: empty sequence", ErrConfig)
	ErrSequence     = fmt.Errorf("%w: wrong phases sequence", ErrConfig)
	ErrNegativeWait = fmt.Errorf("%w: negative wait", ErrConfig)
)

// Phase is one stage of the repetition sequence.
//
// Wait is the delay applied when a schedule enters this phase: a schedule
// moving from phase p to p+1 is next due at previous next_run + Wait(p+1).
type Phase struct {
	Number int           `json:"number"`
	Wait   time.Duration `json:"wait"`
}

// Table is an immutable, validated phase sequence.
type Table struct {
	phases []Phase
	first  int
}

// New validates phases and builds a Table. The input is not modified.
func New(phases []Phase) (*Table, error) {
	if len(phases) == 0 {
		return nil, ErrEmpty
	}
	sorted := append([]Phase(nil), phases...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	for i, ph := range sorted {
		if ph.Wait < 0 {
			return nil, fmt.Errorf("%w: phase %d waits %s", ErrNegativeWait, ph.Number, ph.Wait)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1].Number
		if ph.Number != prev+1 {
			return nil, fmt.Errorf("%w: phase %d follows phase %d", ErrSequence, ph.Number, prev)
		}
	}
	return &Table{phases: sorted, first: sorted[0].Number}, nil
}

// Get returns the phase with the given number. Absence means the sequence
// has no such stage; it is an expected outcome, not an error.
func (t *Table) Get(number int) (Phase, bool) {
	if t == nil {
		return Phase{}, false
	}
	i := number - t.first
	if i < 0 || i >= len(t.phases) {
		return Phase{}, false
	}
	return t.phases[i], true
}

// First is the number a new schedule starts at.
func (t *Table) First() int { return t.first }

// Last is the final phase number; a delivery at this phase completes the schedule.
func (t *Table) Last() int { return t.first + len(t.phases) - 1 }

func (t *Table) Len() int { return len(t.phases) }

// Phases returns a copy of the ordered sequence.
func (t *Table) Phases() []Phase {
	return append([]Phase(nil), t.phases...)
}

// Total is the time from a schedule's creation to its final delivery.
func (t *Table) Total() time.Duration {
	var d time.Duration
	for _, ph := range t.phases[1:] {
		d += ph.Wait
	}
	return d
}
