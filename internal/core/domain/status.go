package domain

// Thresholds maps a confidence score onto a terminal document status. The two
// cut points are tunable per deployment; the defaults mirror the underwriting
// policy (auto-approve at 0.95, route to a human below 0.95 down to 0.70).
type Thresholds struct {
	AutoApprove  float64
	ManualReview float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{AutoApprove: 0.95, ManualReview: 0.70}
}

// ResolveStatus applies the confidence thresholds once a score is known.
func (t Thresholds) ResolveStatus(score float64) DocumentStatus {
	switch {
	case score >= t.AutoApprove:
		return StatusProcessed
	case score >= t.ManualReview:
		return StatusNeedsReview
	default:
		return StatusFailed
	}
}

// IsTerminal reports whether a status admits no further automatic transition.
func IsTerminal(status DocumentStatus) bool {
	switch status {
	case StatusProcessed, StatusNeedsReview, StatusFailed:
		return true
	}
	return false
}

// CanTransition validates the pending -> processing -> terminal lifecycle.
// Leaving a terminal status requires an explicit reprocess (terminal -> pending),
// which only administrative tooling performs.
func CanTransition(from, to DocumentStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return IsTerminal(to)
	default:
		return IsTerminal(from) && to == StatusPending
	}
}
