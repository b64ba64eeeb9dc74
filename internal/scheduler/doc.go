// Package scheduler runs the periodic due-reminder sweep.
//
// Each tick reads the clock, lists schedules due at that instant and
// processes them independently on a bounded worker pool: deliver, then on
// success advance the schedule one phase and persist it. A failed delivery
// writes nothing, so the schedule stays due and is retried next tick. Ticks
// never overlap. A failure to read the clock or list schedules fails only
// that tick; the trigger keeps running.
//
// Ticks are triggered by robfig/cron. The tick spec accepts a Go duration
// ("2s"), HH:MM ("00:05"), a cron expression with optional seconds field, or
// a descriptor ("@every 10s", "@hourly").
package scheduler
