package domain

import "testing"

func TestResolveStatusBoundaries(t *testing.T) {
	th := DefaultThresholds()

	cases := []struct {
		score float64
		want  DocumentStatus
	}{
		{1.0, StatusProcessed},
		{0.95, StatusProcessed},
		{0.9499, StatusNeedsReview},
		{0.70, StatusNeedsReview},
		{0.6999, StatusFailed},
		{0.0, StatusFailed},
	}
	for _, tc := range cases {
		if got := th.ResolveStatus(tc.score); got != tc.want {
			t.Fatalf("ResolveStatus(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to DocumentStatus }{
		{StatusPending, StatusProcessing},
		{StatusProcessing, StatusProcessed},
		{StatusProcessing, StatusNeedsReview},
		{StatusProcessing, StatusFailed},
		// Reprocessing is the only way out of a terminal status.
		{StatusProcessed, StatusPending},
		{StatusNeedsReview, StatusPending},
		{StatusFailed, StatusPending},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("CanTransition(%s, %s) = false, want true", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to DocumentStatus }{
		{StatusPending, StatusProcessed},
		{StatusPending, StatusFailed},
		{StatusProcessing, StatusPending},
		{StatusProcessed, StatusProcessing},
		{StatusFailed, StatusNeedsReview},
	}
	for _, tc := range forbidden {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("CanTransition(%s, %s) = true, want false", tc.from, tc.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []DocumentStatus{StatusProcessed, StatusNeedsReview, StatusFailed} {
		if !IsTerminal(s) {
			t.Fatalf("IsTerminal(%s) = false", s)
		}
	}
	for _, s := range []DocumentStatus{StatusPending, StatusProcessing} {
		if IsTerminal(s) {
			t.Fatalf("IsTerminal(%s) = true", s)
		}
	}
}
