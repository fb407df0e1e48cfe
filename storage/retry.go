package storage

import (
	"context"
	"errors"

	"prism-board/domain"
)

// OutcomeKind is the terminal state of one transaction attempt.
type OutcomeKind int

const (
	OutcomeCommitted OutcomeKind = iota
	OutcomeConflict
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCommitted:
		return "committed"
	case OutcomeConflict:
		return "conflict"
	default:
		return "failed"
	}
}

// Outcome is the tagged result of an attempt: a committed version, a
// conflict, or a failure.
type Outcome struct {
	Kind    OutcomeKind
	Version string
	Err     error
}

func committed(version string) Outcome { return Outcome{Kind: OutcomeCommitted, Version: version} }

func failed(err error) Outcome { return Outcome{Kind: OutcomeFailed, Err: err} }

// outcomeOf classifies the result of a commit.
func outcomeOf(version string, err error) Outcome {
	switch {
	case err == nil:
		return committed(version)
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return Outcome{Kind: OutcomeConflict, Err: err}
	default:
		return failed(err)
	}
}

// retryOnConflict runs attempt at most maxAttempts times, starting over only
// when an attempt ends in a conflict. The last outcome is returned.
func retryOnConflict(ctx context.Context, maxAttempts int, attempt func(ctx context.Context, n int) Outcome) Outcome {
	last := Outcome{Kind: OutcomeConflict, Err: domain.ErrConcurrencyConflict}
	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return failed(err)
		}
		last = attempt(ctx, n)
		if last.Kind != OutcomeConflict {
			return last
		}
	}
	return last
}

// result converts a terminal outcome for boardID into the caller facing result.
func (o Outcome) result(boardID string) domain.Result {
	if o.Kind == OutcomeCommitted {
		return domain.Committed(boardID, o.Version)
	}
	return domain.Failure(o.Err)
}
