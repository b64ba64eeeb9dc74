// Package phase models the ordered progression of wait intervals a reminder
// moves through.
//
// A Table is built once at startup from persisted phase rows and never
// changes afterwards. Construction is the only validation gate: phase numbers
// must form a contiguous run (each number exactly one more than the previous),
// so a Table that exists is always valid and may be shared between goroutines
// without locking.
package phase
