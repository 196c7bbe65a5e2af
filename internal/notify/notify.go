// Package notify implements the two-method notification dispatch
// interface named in spec.md §1 and its exact message formats (§4.9).
package notify

import "context"

// Notifier is the abstracted notification-sender collaborator.
type Notifier interface {
	NotifySuccess(ctx context.Context, jobName string, durationMs int64, channel string) error
	NotifyFailure(ctx context.Context, jobName string, durationMs int64, errMsg string, channel string) error
}
