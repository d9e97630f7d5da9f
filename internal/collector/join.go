package collector

import (
	"context"
	"errors"
	"fmt"

	"go-report-pipeline/internal/model"
)

// ErrCancelled is wrapped by the errors Run and JoinBatch return when the
// caller's context ends.
var ErrCancelled = errors.New("report collection cancelled")

// Awaiter is anything that eventually yields a summary. Await returns an
// error only when ctx ends before the summary is available.
type Awaiter interface {
	Await(ctx context.Context) (model.ResultSummary, error)
}

// JoinBatch waits for every handle and returns one summary per handle, in
// handle order. A failed stream is just a failed summary; it never fails the
// join.
//
// If ctx ends first JoinBatch stops waiting and returns partial results: the
// summaries of handles that were already terminal, and failed summaries with
// the cancellation cause for the rest, together with an error wrapping
// ErrCancelled and ctx's error.
func JoinBatch[A Awaiter](ctx context.Context, handles []A) ([]model.ResultSummary, error) {
	summaries := make([]model.ResultSummary, len(handles))
	var joinErr error
	for i, h := range handles {
		s, err := h.Await(ctx)
		summaries[i] = s
		if err != nil && joinErr == nil {
			joinErr = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
	}
	// A stream may observe the cancellation before Await does and resolve
	// itself; the join is still a cancelled one.
	if joinErr == nil && ctx.Err() != nil && anyCancelled(summaries) {
		joinErr = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	return summaries, joinErr
}

func anyCancelled(summaries []model.ResultSummary) bool {
	for _, s := range summaries {
		if s.Cancelled() {
			return true
		}
	}
	return false
}
