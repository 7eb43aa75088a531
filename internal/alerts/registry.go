package alerts

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Subscription is a webhook endpoint registered at runtime
type Subscription struct {
	ID          uuid.UUID `json:"id"`
	Endpoint    string    `json:"endpoint"`
	MinSeverity Severity  `json:"min_severity,omitempty"`
	Types       []Type    `json:"types,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Active      bool      `json:"active"`
}

// Matches reports whether the subscription wants the alert
func (s *Subscription) Matches(a *Alert) bool {
	if !s.Active || !a.Severity.AtLeast(s.MinSeverity) {
		return false
	}
	if len(s.Types) == 0 {
		return true
	}
	for _, t := range s.Types {
		if t == a.Type {
			return true
		}
	}
	return false
}

var (
	// ErrInvalidSubscription is returned for a malformed endpoint or filter
	ErrInvalidSubscription = errors.New("invalid subscription")
	// ErrSubscriptionNotFound is returned when unsubscribing an unknown id
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// SubscriptionStore persists subscriptions
type SubscriptionStore interface {
	SaveSubscription(sub *Subscription) error
	DeactivateSubscription(id uuid.UUID) error
}

// Registry holds active subscriptions and builds their senders
type Registry struct {
	store   SubscriptionStore
	secret  string
	timeout time.Duration
	log     *logrus.Logger
	now     func() time.Time

	mu      sync.RWMutex
	subs    map[uuid.UUID]*Subscription
	senders map[uuid.UUID]Sender
}

// NewRegistry creates a registry. store may be nil, in which case
// subscriptions live only in memory.
func NewRegistry(store SubscriptionStore, secret string, timeout time.Duration, log *logrus.Logger) *Registry {
	return &Registry{
		store:   store,
		secret:  secret,
		timeout: timeout,
		log:     log,
		now:     time.Now,
		subs:    make(map[uuid.UUID]*Subscription),
		senders: make(map[uuid.UUID]Sender),
	}
}

// Subscribe registers a webhook endpoint with optional filters
func (r *Registry) Subscribe(endpoint string, minSeverity Severity, types []Type) (*Subscription, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint %q", ErrInvalidSubscription, endpoint)
	}
	if minSeverity != "" && !minSeverity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidSubscription, minSeverity)
	}
	for _, t := range types {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown alert type %q", ErrInvalidSubscription, t)
		}
	}

	sub := &Subscription{
		ID:          uuid.New(),
		Endpoint:    endpoint,
		MinSeverity: minSeverity,
		Types:       types,
		CreatedAt:   r.now().UTC(),
		Active:      true,
	}

	if r.store != nil {
		if err := r.store.SaveSubscription(sub); err != nil {
			return nil, fmt.Errorf("save subscription: %w", err)
		}
	}

	r.add(sub)

	r.log.WithFields(logrus.Fields{
		"subscription": sub.ID,
		"endpoint":     endpoint,
		"min_severity": minSeverity,
	}).Info("Subscription added")

	return sub, nil
}

// Unsubscribe deactivates a subscription. The subscription stays registered
// when the store cannot deactivate it.
func (r *Registry) Unsubscribe(id uuid.UUID) error {
	r.mu.RLock()
	_, ok := r.subs[id]
	r.mu.RUnlock()
	if !ok {
		return ErrSubscriptionNotFound
	}

	if r.store != nil {
		if err := r.store.DeactivateSubscription(id); err != nil {
			return fmt.Errorf("deactivate subscription: %w", err)
		}
	}

	r.mu.Lock()
	delete(r.subs, id)
	delete(r.senders, id)
	r.mu.Unlock()

	r.log.WithField("subscription", id).Info("Subscription removed")
	return nil
}

// Restore loads previously persisted subscriptions, skipping inactive ones
func (r *Registry) Restore(subs []*Subscription) {
	for _, sub := range subs {
		if sub.Active {
			r.add(sub)
		}
	}
}

func (r *Registry) add(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = sub
	r.senders[sub.ID] = NewWebhookSender(sub.Endpoint, r.secret, r.timeout)
}

// List returns active subscriptions, oldest first
func (r *Registry) List() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Senders returns the senders of every subscription matching the alert
func (r *Registry) Senders(a *Alert) []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Sender
	for id, sub := range r.subs {
		if sub.Matches(a) {
			out = append(out, r.senders[id])
		}
	}
	return out
}
