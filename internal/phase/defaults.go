package phase

import "time"

// Default is the classic forgetting-curve sequence used by `phases seed`.
// Phase 1 is the initial delivery right after the reminder is created.
func Default() []Phase {
	return []Phase{
		{Number: 1, Wait: 0},
		{Number: 2, Wait: 20 * time.Minute},
		{Number: 3, Wait: time.Hour},
		{Number: 4, Wait: 9 * time.Hour},
		{Number: 5, Wait: 24 * time.Hour},
		{Number: 6, Wait: 48 * time.Hour},
		{Number: 7, Wait: 6 * 24 * time.Hour},
		{Number: 8, Wait: 31 * 24 * time.Hour},
	}
}
