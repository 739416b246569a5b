package entitlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PabloGalante/farum-voice/internal/domain"
	"github.com/PabloGalante/farum-voice/internal/observability"
)

// DefaultFreeLimit is the number of entries a non-premium identity may create.
const DefaultFreeLimit = 3

// Gate decides whether an identity may create another entry. Callers check it before
// starting the insight pipeline; the pipeline itself never consults it.
type Gate struct {
	store domain.EntitlementStore
	limit int
	now   func() time.Time

	mu sync.Mutex
}

type Option func(*Gate)

// WithClock overrides the time source used for premium expiry.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate builds a gate with limit free entries per identity. A limit of 0 means only
// premium identities may create entries; negative limits are treated as 0.
func NewGate(store domain.EntitlementStore, limit int, opts ...Option) *Gate {
	limit = max(limit, 0)
	g := &Gate{
		store: store,
		limit: limit,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Limit() int {
	return g.limit
}

// State returns the identity's entitlement record. Expired premium is cleared and
// written back before returning, so no read ever reports it as active.
func (g *Gate) State(ctx context.Context, id domain.Identity) (domain.EntitlementState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.load(ctx, id)
}

func (g *Gate) IsPremium(ctx context.Context, id domain.Identity) (bool, error) {
	st, err := g.State(ctx, id)
	if err != nil {
		return false, err
	}
	return st.Premium, nil
}

func (g *Gate) CanCreate(ctx context.Context, id domain.Identity) (bool, error) {
	st, err := g.State(ctx, id)
	if err != nil {
		return false, err
	}
	return st.Premium || st.EntryCount < g.limit, nil
}

// Check returns a precheck StageError wrapping ErrEntitlementExceeded when the identity
// may not create another entry.
func (g *Gate) Check(ctx context.Context, id domain.Identity) error {
	ok, err := g.CanCreate(ctx, id)
	if err != nil {
		return domain.NewStageError(domain.StagePreCheck, domain.ErrPersistenceFailed, err)
	}
	if !ok {
		return &domain.StageError{
			Stage:   domain.StagePreCheck,
			Kind:    domain.ErrEntitlementExceeded,
			Message: fmt.Sprintf("free limit of %d entries reached", g.limit),
		}
	}
	return nil
}

func (g *Gate) Remaining(ctx context.Context, id domain.Identity) (domain.Remaining, error) {
	st, err := g.State(ctx, id)
	if err != nil {
		return domain.Remaining{}, err
	}
	if st.Premium {
		return domain.Remaining{Unbounded: true}, nil
	}
	return domain.Remaining{Count: max(0, g.limit-st.EntryCount)}, nil
}

// RecordCreation counts one successfully created entry.
func (g *Gate) RecordCreation(ctx context.Context, id domain.Identity) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, err := g.load(ctx, id)
	if err != nil {
		return err
	}
	st.EntryCount++

	if err := g.store.SaveEntitlement(ctx, id, st); err != nil {
		return fmt.Errorf("save entitlement: %w", err)
	}
	return nil
}

// ActivatePremium extends premium by months, starting from the current expiry if it is
// still in the future.
func (g *Gate) ActivatePremium(ctx context.Context, id domain.Identity, months int) (domain.EntitlementState, error) {
	if months <= 0 {
		return domain.EntitlementState{}, domain.ErrInvalidDuration
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	st, err := g.load(ctx, id)
	if err != nil {
		return domain.EntitlementState{}, err
	}

	start := g.now()
	if st.Premium && st.PremiumExpiry.After(start) {
		start = st.PremiumExpiry
	}
	st.Premium = true
	st.PremiumExpiry = start.AddDate(0, months, 0)

	if err := g.store.SaveEntitlement(ctx, id, st); err != nil {
		return domain.EntitlementState{}, fmt.Errorf("save entitlement: %w", err)
	}

	observability.LoggerFromContext(observability.WithIdentity(ctx, id.Key())).Info("premium activated",
		"months", months,
		"expires_at", st.PremiumExpiry,
	)
	return st, nil
}

// load must be called with g.mu held.
func (g *Gate) load(ctx context.Context, id domain.Identity) (domain.EntitlementState, error) {
	st, err := g.store.LoadEntitlement(ctx, id)
	if err != nil {
		return domain.EntitlementState{}, fmt.Errorf("load entitlement: %w", err)
	}

	if st.Premium && !st.PremiumAt(g.now()) {
		st.Premium = false
		st.PremiumExpiry = time.Time{}
		if err := g.store.SaveEntitlement(ctx, id, st); err != nil {
			return domain.EntitlementState{}, fmt.Errorf("clear expired premium: %w", err)
		}
		observability.LoggerFromContext(observability.WithIdentity(ctx, id.Key())).Info("premium expired")
	}
	return st, nil
}
