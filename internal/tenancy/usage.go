package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/suteetoe/shopnest/internal/model"
	metrics "github.com/suteetoe/shopnest/prometheus"
)

// LimitError is returned when creating more of a resource would pass the plan limit
type LimitError struct {
	Resource  model.Resource
	Current   int64
	Limit     int64
	Requested int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit reached: %d of %d used, %d requested", e.Resource, e.Current, e.Limit, e.Requested)
}

// UsageStore persists tenant usage counters
type UsageStore interface {
	AdjustUsage(ctx context.Context, id uint, r model.Resource, delta int64) error
	ReserveUsage(ctx context.Context, id uint, r model.Resource, n int64) (bool, error)
	SetUsage(ctx context.Context, id uint, usage model.TenantUsage) error
}

// Accountant enforces plan limits against the stored usage counters.
//
// In lax mode a limit check and the following increment are separate steps,
// so concurrent creations can overshoot a limit. In atomic mode Reserve claims
// the units with a conditional update before the resource is written.
type Accountant struct {
	usage  UsageStore
	atomic bool
}

func NewAccountant(usage UsageStore, atomic bool) *Accountant {
	return &Accountant{usage: usage, atomic: atomic}
}

// Check allows one more r while usage is strictly below the limit
func (a *Accountant) Check(t *model.Tenant, r model.Resource) error {
	if t.IsWithinLimits(r) {
		return nil
	}
	metrics.RecordLimitExceeded(string(r))
	return &LimitError{Resource: r, Current: t.Current(r), Limit: t.Limit(r), Requested: 1}
}

// CheckBatch rejects the whole batch when current + n would pass the limit
func (a *Accountant) CheckBatch(t *model.Tenant, r model.Resource, n int64) error {
	if t.Current(r)+n <= t.Limit(r) {
		return nil
	}
	metrics.RecordLimitExceeded(string(r))
	return &LimitError{Resource: r, Current: t.Current(r), Limit: t.Limit(r), Requested: n}
}

// Increment adds n to the stored counter and mirrors it on t
func (a *Accountant) Increment(ctx context.Context, t *model.Tenant, r model.Resource, n int64) error {
	if n <= 0 {
		return nil
	}
	if err := a.usage.AdjustUsage(ctx, t.ID, r, n); err != nil {
		return fmt.Errorf("increment %s usage: %w", r, err)
	}
	t.IncrementUsage(r, n)
	metrics.RecordUsageAdjustment(string(r), "increment", n)
	return nil
}

// Decrement subtracts n from the stored counter, never going below zero
func (a *Accountant) Decrement(ctx context.Context, t *model.Tenant, r model.Resource, n int64) error {
	if n <= 0 {
		return nil
	}
	if err := a.usage.AdjustUsage(ctx, t.ID, r, -n); err != nil {
		return fmt.Errorf("decrement %s usage: %w", r, err)
	}
	t.DecrementUsage(r, n)
	metrics.RecordUsageAdjustment(string(r), "decrement", n)
	return nil
}

// Reservation holds units of a resource between the limit check and the write
type Reservation struct {
	accountant *Accountant
	tenant     *model.Tenant
	resource   model.Resource
	units      int64
	claimed    bool
	done       bool
}

// Reserve checks room for n more units of r. In atomic mode the units are
// claimed immediately and must be settled with Commit or Cancel.
func (a *Accountant) Reserve(ctx context.Context, t *model.Tenant, r model.Resource, n int64) (*Reservation, error) {
	res := &Reservation{accountant: a, tenant: t, resource: r, units: n}
	if !a.atomic {
		if err := a.CheckBatch(t, r, n); err != nil {
			return nil, err
		}
		return res, nil
	}

	ok, err := a.usage.ReserveUsage(ctx, t.ID, r, n)
	if err != nil {
		return nil, fmt.Errorf("reserve %s usage: %w", r, err)
	}
	if !ok {
		metrics.RecordLimitExceeded(string(r))
		return nil, &LimitError{Resource: r, Current: t.Current(r), Limit: t.Limit(r), Requested: n}
	}
	t.IncrementUsage(r, n)
	metrics.RecordUsageAdjustment(string(r), "increment", n)
	res.claimed = true
	return res, nil
}

// Commit settles the reservation with the number of units actually created.
// Unused claimed units are given back.
func (res *Reservation) Commit(ctx context.Context, used int64) error {
	if res.done {
		return errors.New("reservation already settled")
	}
	res.done = true
	if used < 0 {
		used = 0
	}
	if used > res.units {
		used = res.units
	}
	if res.claimed {
		return res.accountant.Decrement(ctx, res.tenant, res.resource, res.units-used)
	}
	return res.accountant.Increment(ctx, res.tenant, res.resource, used)
}

// Cancel releases the reservation without creating anything
func (res *Reservation) Cancel(ctx context.Context) error {
	return res.Commit(ctx, 0)
}

// Reconcile overwrites the stored counters with live counts.
// Storage is not counted from rows, so the stored value is kept.
func (a *Accountant) Reconcile(ctx context.Context, t *model.Tenant, counts model.TenantUsage) error {
	counts.StorageUsedMB = t.Usage.StorageUsedMB
	if err := a.usage.SetUsage(ctx, t.ID, counts); err != nil {
		return fmt.Errorf("reconcile usage: %w", err)
	}
	t.Usage = counts
	return nil
}
