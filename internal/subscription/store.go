// Package subscription tracks the account's subscription and derives the
// gate that controls webhook URL edits.
package subscription

import (
	"context"

	"go.uber.org/zap"

	"github.com/ashton/loopchat/internal/models"
	"github.com/ashton/loopchat/internal/persist"
	"github.com/ashton/loopchat/internal/remote"
	"github.com/ashton/loopchat/internal/state"
)

// StorageName is the persistence slot for the subscription.
const StorageName = "subscription-storage"

// Gate decides whether agent webhook URLs may be changed.
type Gate interface {
	WebhookEditable() bool
}

// State is the observable subscription state. Subscription is nil when the
// account has none.
type State struct {
	Subscription *models.Subscription
	Loading      bool
	Err          string
}

type snapshot struct {
	Subscription *models.Subscription `json:"subscription"`
}

type Store struct {
	store  *state.Store[State]
	api    remote.SubscriptionService
	logger *zap.Logger
}

var _ Gate = (*Store)(nil)

// New builds a subscription store over api, rehydrated from storage when
// non-nil.
func New(api remote.SubscriptionService, storage persist.Storage, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("subscription")

	var initial State
	if storage != nil {
		var snap snapshot
		if persist.Rehydrate(storage, StorageName, &snap, logger) {
			initial.Subscription = snap.Subscription
		}
	}

	s := &Store{store: state.New(initial), api: api, logger: logger}
	if storage != nil {
		persist.Bind(s.store, storage, StorageName, func(st State) any {
			return snapshot{Subscription: st.Subscription}
		}, logger)
	}
	return s
}

func (s *Store) State() State {
	return s.store.GetState()
}

func (s *Store) Subscribe(l state.Listener[State]) func() {
	return s.store.Subscribe(l)
}

// Current returns the local subscription, or nil.
func (s *Store) Current() *models.Subscription {
	return s.store.GetState().Subscription
}

func (s *Store) Err() string {
	return s.store.GetState().Err
}

func (s *Store) ClearError() {
	s.store.Update(func(st State) State {
		st.Err = ""
		return st
	})
}

func (s *Store) fail(op string, err error) error {
	s.logger.Warn(op, zap.Error(err))
	s.store.Update(func(st State) State {
		st.Err = err.Error()
		st.Loading = false
		return st
	})
	return err
}

// Load fetches the current subscription. On failure the persisted copy, if
// any, stays in place.
func (s *Store) Load(ctx context.Context) error {
	s.store.Update(func(st State) State {
		st.Loading = true
		return st
	})
	sub, err := s.api.GetSubscription(ctx)
	if err != nil {
		return s.fail("load subscription", err)
	}
	s.store.Update(func(st State) State {
		st.Subscription = sub
		st.Loading = false
		return st
	})
	return nil
}

// Update changes the subscription remotely and replaces the local copy with
// the result.
func (s *Store) Update(ctx context.Context, update models.SubscriptionUpdate) (*models.Subscription, error) {
	switch update.Plan {
	case models.PlanNone, models.PlanCore, models.PlanYearly:
	default:
		return nil, s.fail("update subscription", &models.ValidationError{Field: "plan", Message: "plan must be none, core or yearly"})
	}
	switch update.Status {
	case "", models.StatusActive, models.StatusInactive:
	default:
		return nil, s.fail("update subscription", &models.ValidationError{Field: "status", Message: "status must be active or inactive"})
	}

	sub, err := s.api.UpdateSubscription(ctx, update)
	if err != nil {
		return nil, s.fail("update subscription", err)
	}
	s.store.Update(func(st State) State {
		st.Subscription = sub
		return st
	})
	return sub, nil
}

// Clear drops the local subscription without a remote call.
func (s *Store) Clear() {
	s.store.Update(func(st State) State {
		st.Subscription = nil
		return st
	})
}

// HasActiveSubscription reports whether the subscription status is active.
func (s *Store) HasActiveSubscription() bool {
	sub := s.Current()
	return sub != nil && sub.Status == models.StatusActive
}

// IsPremiumPlan reports whether the plan is core or yearly.
func (s *Store) IsPremiumPlan() bool {
	sub := s.Current()
	return sub != nil && (sub.Plan == models.PlanCore || sub.Plan == models.PlanYearly)
}

// WebhookEditable is the gate: an active premium subscription.
func (s *Store) WebhookEditable() bool {
	return s.HasActiveSubscription() && s.IsPremiumPlan()
}
