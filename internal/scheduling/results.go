package scheduling

import (
	"context"

	"github.com/hackgods/clinic-scheduling/internal/apperrors"
)

// ItemResult is the outcome of one item of a partial-success batch.
type ItemResult[T any] struct {
	Index int
	Value T
	Err   error
}

func (r ItemResult[T]) OK() bool { return r.Err == nil }

// ProcessEach applies fn to every item independently. A failing item never
// stops the others; ctx cancellation fails the remaining items.
func ProcessEach[In, Out any](ctx context.Context, items []In, fn func(ctx context.Context, i int, item In) (Out, error)) []ItemResult[Out] {
	results := make([]ItemResult[Out], len(items))
	for i, item := range items {
		results[i].Index = i
		if err := ctx.Err(); err != nil {
			results[i].Err = apperrors.Internal("batch interrupted", err)
			continue
		}
		results[i].Value, results[i].Err = fn(ctx, i, item)
	}
	return results
}

// Partition splits results into successes and failures, preserving order.
func Partition[T any](results []ItemResult[T]) (ok, failed []ItemResult[T]) {
	for _, r := range results {
		if r.OK() {
			ok = append(ok, r)
		} else {
			failed = append(failed, r)
		}
	}
	return ok, failed
}
