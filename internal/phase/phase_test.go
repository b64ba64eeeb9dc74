package phase

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidSequences(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		start int
		n     int
	}{
		{name: "canonical", start: 1, n: 5},
		{name: "single", start: 1, n: 1},
		{name: "zero based", start: 0, n: 3},
		{name: "negative start", start: -4, n: 6},
		{name: "large start", start: 1000, n: 2},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := make([]Phase, 0, tt.n)
			// reverse order: construction must sort
			for i := tt.n - 1; i >= 0; i-- {
				in = append(in, Phase{Number: tt.start + i, Wait: time.Duration(i+1) * time.Minute})
			}

			tbl, err := New(in)
			require.NoError(t, err)
			assert.Equal(t, tt.start, tbl.First())
			assert.Equal(t, tt.start+tt.n-1, tbl.Last())
			assert.Equal(t, tt.n, tbl.Len())

			for i := 0; i < tt.n; i++ {
				ph, ok := tbl.Get(tt.start + i)
				require.True(t, ok, "phase %d", tt.start+i)
				assert.Equal(t, time.Duration(i+1)*time.Minute, ph.Wait)
			}
			_, ok := tbl.Get(tt.start - 1)
			assert.False(t, ok)
			_, ok = tbl.Get(tt.start + tt.n)
			assert.False(t, ok)
		})
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []Phase
		want error
	}{
		{name: "empty", in: nil, want: ErrEmpty},
		{name: "gap", in: []Phase{{Number: 1}, {Number: 3}}, want: ErrSequence},
		{name: "duplicate", in: []Phase{{Number: 1}, {Number: 2}, {Number: 2}}, want: ErrSequence},
		{name: "gap after sort", in: []Phase{{Number: 5}, {Number: 2}, {Number: 3}}, want: ErrSequence},
		{name: "negative wait", in: []Phase{{Number: 1, Wait: -time.Second}}, want: ErrNegativeWait},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tbl, err := New(tt.in)
			require.Error(t, err)
			assert.Nil(t, tbl)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, errors.Is(err, ErrConfig), "every table error is a config error")
		})
	}
}

func TestEmptyIsNotSequenceError(t *testing.T) {
	t.Parallel()
	_, err := New([]Phase{})
	require.ErrorIs(t, err, ErrEmpty)
	assert.NotErrorIs(t, err, ErrSequence)
}

func TestNewDoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := []Phase{{Number: 2, Wait: time.Hour}, {Number: 1}}
	_, err := New(in)
	require.NoError(t, err)
	assert.Equal(t, 2, in[0].Number)
}

func TestGetIsStable(t *testing.T) {
	t.Parallel()
	tbl, err := New(Default())
	require.NoError(t, err)

	first, ok := tbl.Get(3)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		again, ok := tbl.Get(3)
		require.True(t, ok)
		assert.Equal(t, first, again)
	}

	// callers cannot reach the internal slice
	ps := tbl.Phases()
	ps[0].Wait = 99 * time.Hour
	ph, _ := tbl.Get(1)
	assert.Equal(t, time.Duration(0), ph.Wait)
}

func TestNilTableGet(t *testing.T) {
	t.Parallel()
	var tbl *Table
	_, ok := tbl.Get(1)
	assert.False(t, ok)
}

func TestDefaultTotal(t *testing.T) {
	t.Parallel()
	tbl, err := New(Default())
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.First())
	assert.Equal(t, 8, tbl.Last())
	want := 20*time.Minute + time.Hour + 9*time.Hour + 24*time.Hour + 48*time.Hour + 6*24*time.Hour + 31*24*time.Hour
	assert.Equal(t, want, tbl.Total())
}
