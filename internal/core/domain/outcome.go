package domain

import "time"

// OutcomeKind classifies how a queued task attempt ended. Pipelines return an
// explicit outcome instead of signalling retries through errors; the queue
// worker's dispatch loop translates the outcome into substrate semantics.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomeTerminal
)

type Outcome struct {
	Kind OutcomeKind
	// Delay is the requested wait before the next attempt. Only meaningful
	// for retryable outcomes.
	Delay time.Duration
	// Err carries the failure for logging and for the substrate's retry
	// accounting. Terminal outcomes have already been recorded on the entity.
	Err error
}

func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

func RetryableFailure(delay time.Duration, err error) Outcome {
	return Outcome{Kind: OutcomeRetryable, Delay: delay, Err: err}
}

func TerminalFailure(err error) Outcome {
	return Outcome{Kind: OutcomeTerminal, Err: err}
}
