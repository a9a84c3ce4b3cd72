package workdir

import (
	"context"
	"time"

	"versionstore/internal/cleanup"
	"versionstore/internal/store"
)

// CleanupPolicies returns the cleanup policies currently bound to this
// working directory's timeline.
func (w *WorkDirectory) CleanupPolicies(ctx context.Context) ([]store.CleanupPolicyRow, error) {
	return w.timeline.CleanupPolicies(ctx)
}

// AddCleanupPolicy binds p to this working directory's timeline,
// persisting it under id.
func (w *WorkDirectory) AddCleanupPolicy(ctx context.Context, id string, p cleanup.Policy) error {
	return w.timeline.AddCleanupPolicy(ctx, store.CleanupPolicyRow{
		ID:          id,
		MinInterval: int64(p.MinInterval),
		TimeFrame:   int64(p.TimeFrame),
		MaxVersions: p.MaxVersions,
		Description: p.Description,
	})
}

// ClearCleanupPolicies unbinds every cleanup policy from this working
// directory's timeline.
func (w *WorkDirectory) ClearCleanupPolicies(ctx context.Context) error {
	return w.timeline.ClearCleanupPolicies(ctx)
}

// ApplyCleanupPolicies evaluates every cleanup policy currently bound to
// this working directory's timeline, deleting the versions each policy
// judges excess, and returns how many were removed.
func (w *WorkDirectory) ApplyCleanupPolicies(ctx context.Context) (int, error) {
	rows, err := w.timeline.CleanupPolicies(ctx)
	if err != nil {
		return 0, err
	}
	policies := make([]cleanup.Policy, len(rows))
	for i, r := range rows {
		policies[i] = cleanup.Policy{
			ID:          r.ID,
			MinInterval: time.Duration(r.MinInterval),
			TimeFrame:   time.Duration(r.TimeFrame),
			MaxVersions: r.MaxVersions,
			Description: r.Description,
		}
	}
	return cleanup.Evaluate(ctx, w.timeline, policies)
}
