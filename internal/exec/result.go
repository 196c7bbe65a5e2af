// Package exec implements the two execution pipelines a job can take:
// spawning a child process (script variant) or delegating to a remote
// session gateway (session variant) — spec.md §4.4, §4.5.
package exec

import "jobrunner/internal/model"

// Result is the outcome of one execution attempt, generalized across both
// executor variants and mapped onto a terminal Run row by the scheduler.
type Result struct {
	Status     model.RunStatus
	ExitCode   *int
	Tokens     *int64
	ResultMeta string
	Error      string
	StdoutTail string
	StderrTail string
	DurationMs int64
}
