package s3

import (
	"context"
	"errors"

	"github.com/minio/minio-go/v7"

	"github.com/fundlane/mca-backend/internal/infrastructure/resilience"
)

func classifyS3Error(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	resp := minio.ToErrorResponse(err)
	switch resp.StatusCode {
	case 0:
		// No HTTP response at all: connection-level failure.
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	case 500, 502, 503, 504:
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	// 4xx responses (missing object, denied access) never benefit from retry.
	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: false,
	}
}
