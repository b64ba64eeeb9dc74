package app

// StopReason is logged on shutdown.
type StopReason string

const (
	StopSignal   StopReason = "signal"
	StopFatal    StopReason = "fatal_error"
	StopFinished StopReason = "finished"
)
