package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebbinghaus/internal/phase"
)

func mustTable(t *testing.T, phases ...phase.Phase) *phase.Table {
	t.Helper()
	tbl, err := phase.New(phases)
	require.NoError(t, err)
	return tbl
}

func at(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func TestAdvanceAddsToPriorNextRun(t *testing.T) {
	tbl := mustTable(t,
		phase.Phase{Number: 1, Wait: 0},
		phase.Phase{Number: 2, Wait: 60 * time.Second},
		phase.Phase{Number: 3, Wait: time.Hour},
	)

	tests := []struct {
		name      string
		in        Schedule
		wantPhase int
		wantNext  int64
	}{
		{name: "first to second", in: Schedule{PhaseNumber: 1, NextRun: at(0)}, wantPhase: 2, wantNext: 60},
		{name: "second to third", in: Schedule{PhaseNumber: 2, NextRun: at(60)}, wantPhase: 3, wantNext: 3660},
		{name: "late schedule keeps cadence", in: Schedule{PhaseNumber: 1, NextRun: at(-500)}, wantPhase: 2, wantNext: -440},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := Advance(tt.in, tbl)
			require.NoError(t, err)
			assert.False(t, tr.Completed)
			assert.Equal(t, tt.wantPhase, tr.PhaseNumber)
			require.NotNil(t, tr.NextRun)
			assert.Equal(t, tt.wantNext, tr.NextRun.Unix())
		})
	}
}

func TestAdvanceLastPhaseIsTerminal(t *testing.T) {
	tbl := mustTable(t, phase.Phase{Number: 1}, phase.Phase{Number: 2, Wait: time.Minute})

	tr, err := Advance(Schedule{ID: 7, PhaseNumber: 2, NextRun: at(60)}, tbl)
	require.NoError(t, err)
	assert.True(t, tr.Completed)
	assert.Nil(t, tr.NextRun)
	assert.Equal(t, 3, tr.PhaseNumber)

	s := tr.Apply(Schedule{ID: 7, PhaseNumber: 2, NextRun: at(60)})
	assert.True(t, s.Terminal())
	assert.False(t, s.Due(time.Unix(1<<40, 0)))
}

func TestAdvanceRejectsTerminal(t *testing.T) {
	tbl := mustTable(t, phase.Phase{Number: 1})
	_, err := Advance(Schedule{ID: 3, PhaseNumber: 1}, tbl)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestNewScheduleStartsAtFirstPhase(t *testing.T) {
	tbl := mustTable(t, phase.Phase{Number: 5}, phase.Phase{Number: 6, Wait: time.Second})
	now := time.Unix(100, 0)
	s := NewSchedule(9, tbl, now)
	assert.Equal(t, 5, s.PhaseNumber)
	assert.Equal(t, int64(9), s.ReminderID)
	require.NotNil(t, s.NextRun)
	assert.True(t, s.Due(now))
	assert.False(t, s.Due(now.Add(-time.Second)))
}

func TestPhaseNumberNeverDecreases(t *testing.T) {
	tbl, err := phase.New(phase.Default())
	require.NoError(t, err)

	s := NewSchedule(1, tbl, time.Unix(0, 0))
	prev := s.PhaseNumber
	for !s.Terminal() {
		tr, err := Advance(s, tbl)
		require.NoError(t, err)
		s = tr.Apply(s)
		assert.Greater(t, s.PhaseNumber, prev)
		prev = s.PhaseNumber
	}
	assert.Equal(t, tbl.Last()+1, s.PhaseNumber)
}

func TestTopicOrEmpty(t *testing.T) {
	topic := "go"
	assert.Equal(t, "go", Reminder{Topic: &topic}.TopicOrEmpty())
	assert.Equal(t, "", Reminder{}.TopicOrEmpty())
}
