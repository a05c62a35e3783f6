// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package probe implements one executor per check type, each a pure
// function of (Endpoint, deadline) [plus the Kafka connection pool for the
// two Kafka check types] returning a Result. Executors
// must not mutate the endpoint or the outcome log — only Dispatch and its
// caller (the scheduler) are allowed to do that.
package probe

import (
	"time"

	"github.com/watchwire/sentinel/domain"
)

// Result is the executor-level outcome, distinct from domain.ProbeOutcome:
// it carries nothing the executor itself can't derive (no endpoint id,
// instance id, location or timestamp — those are the scheduler's job to
// stamp on afterwards).
type Result struct {
	IsOK           bool
	ResponseTimeMS int64
	Status         domain.Status
	FailureReason  string
	Metadata       map[string]any
}

// statusFor derives the normalized Status field from IsOK, matching the
// ProbeOutcome invariant (IsOK iff Status == UP) that every executor must
// already satisfy before Dispatch applies upside_down.
func statusFor(ok bool) domain.Status {
	if ok {
		return domain.StatusUp
	}
	return domain.StatusDown
}

func ok(responseTime time.Duration, metadata map[string]any) Result {
	return Result{
		IsOK:           true,
		ResponseTimeMS: responseTime.Milliseconds(),
		Status:         domain.StatusUp,
		Metadata:       metadata,
	}
}

func fail(reason string, responseTime time.Duration) Result {
	return Result{
		IsOK:           false,
		ResponseTimeMS: responseTime.Milliseconds(),
		Status:         domain.StatusDown,
		FailureReason:  reason,
	}
}

// invert implements the last line: if the endpoint has
// upside_down set, invert IsOK (and re-derive Status accordingly). The
// failure reason and metadata are left as reported by the executor even
// when the outcome is flipped to OK, since they describe what the
// underlying probe actually observed.
func invert(r Result) Result {
	r.IsOK = !r.IsOK
	r.Status = statusFor(r.IsOK)
	return r
}
