package progress

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"golang.org/x/sync/errgroup"
)

// batchParallelism caps the store calls one submission keeps in flight.
const batchParallelism = 8

// MutationError reports that part of a submission's writes failed. Writes
// that succeeded are not undone, so the player's aggregates may be
// inconsistent afterwards.
type MutationError struct {
	Failed int
	Total  int
	Err    error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%d of %d updates failed: %v", e.Failed, e.Total, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

type mutation struct {
	name string
	// aux marks best-effort writes whose failure is logged and dropped.
	aux bool
	run func(ctx context.Context) error
}

type batchOutcome struct {
	primary []error
	aux     map[string]error
	total   int
}

// runBatch issues every mutation and waits for all of them. One failing
// mutation does not cancel the rest.
func runBatch(ctx context.Context, muts []mutation) batchOutcome {
	errs := make([]error, len(muts))
	var g errgroup.Group
	g.SetLimit(batchParallelism)
	for i, m := range muts {
		g.Go(func() error {
			errs[i] = m.run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	out := batchOutcome{total: len(muts)}
	for i, err := range errs {
		if err == nil {
			continue
		}
		if muts[i].aux {
			if out.aux == nil {
				out.aux = make(map[string]error)
			}
			out.aux[muts[i].name] = err
			continue
		}
		out.primary = append(out.primary, fmt.Errorf("%s: %w", muts[i].name, err))
	}
	return out
}

func (o batchOutcome) err() error {
	if len(o.primary) == 0 {
		return nil
	}
	return &MutationError{Failed: len(o.primary), Total: o.total, Err: errors.Join(o.primary...)}
}

const lockStripes = 64

// userLocks serializes work per user id within one process.
type userLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *userLocks) lock(userID string) func() {
	if l == nil {
		return func() {}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
