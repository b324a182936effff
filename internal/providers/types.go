// Package providers defines the uniform contract every provider adapter
// normalizes into. Raw provider status strings never leak past an adapter.
package providers

import "context"

// SubmissionKind tags how a provider answered a submit call.
type SubmissionKind int

const (
	// SubmissionImmediate means the provider answered in the same call; URL
	// carries the extracted result and is empty when nothing was extractable.
	SubmissionImmediate SubmissionKind = iota
	// SubmissionAccepted means the provider accepted an asynchronous task;
	// TaskID must be polled for completion.
	SubmissionAccepted
)

// Submission is the normalized result of submitting a generation job.
type Submission struct {
	Kind   SubmissionKind
	URL    string
	TaskID string
}

// PollState is the normalized outcome of one status check.
type PollState int

const (
	StateRunning PollState = iota
	StateSucceeded
	StateFailed
)

// PollResult is the normalized response of one poll attempt. URL is set on
// StateSucceeded when the provider already exposed the artifact; Reason
// carries the provider's diagnostic on StateFailed when one was present.
type PollResult struct {
	State  PollState
	URL    string
	Reason string
}

// TaskPoller is implemented by adapters backing asynchronous providers.
type TaskPoller interface {
	PollOnce(ctx context.Context, taskID string) (PollResult, error)
}
