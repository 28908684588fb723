// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package observe implements the RFC 7641 observe relation manager:
// the V1<V2 freshness predicate, notification staleness, and
// reregistration backoff. Its TTL-cached "check, then recheck in the
// background" shape maps directly onto "accept a fresh notification,
// then reregister if the feed goes quiet".
package observe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/edgecoap/coap/pkg/message"
)

// Config carries the four notification-freshness knobs RFC 7641 §4.5
// leaves to the implementation.
type Config struct {
	NotificationMaxAge                time.Duration
	NotificationCheckIntervalTime      time.Duration
	NotificationCheckIntervalCount     int
	NotificationReregistrationBackoff time.Duration
}

// Relation is one long-lived subscription to a resource.
type Relation struct {
	Token    []byte
	Endpoint string

	mu            sync.Mutex
	config        Config
	lastSeq       uint32
	lastTimestamp time.Time
	sinceNotify   int
	notifications chan *message.Message
	reregister    func() error
	closed        bool
	logger        *slog.Logger
}

// New creates a Relation. reregister is invoked (after
// notificationReregistrationBackoff) when the feed goes quiet for
// notificationCheckIntervalTime or notificationCheckIntervalCount
// responses.
func New(token []byte, endpoint string, config Config, reregister func() error, logger *slog.Logger) *Relation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relation{
		Token:         token,
		Endpoint:      endpoint,
		config:        config,
		notifications: make(chan *message.Message, 8),
		reregister:    reregister,
		logger:        logger,
	}
}

// Notifications exposes the channel of accepted, freshness-filtered
// notifications.
func (r *Relation) Notifications() <-chan *message.Message {
	return r.notifications
}

// Deliver applies the RFC 7641 §3.4 freshness predicate to an inbound
// notification and, if it passes, delivers it; otherwise it is
// discarded. It returns whether the notification was accepted.
func (r *Relation) Deliver(m *message.Message) bool {
	seq, ok := m.Options.ObserveValue()
	if !ok {
		// A non-2.05 response (or one without Observe) ends the relation.
		r.Cancel()
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	now := time.Now()
	if r.lastTimestamp.IsZero() || fresher(r.lastSeq, seq, r.lastTimestamp, now) {
		r.lastSeq = seq
		r.lastTimestamp = now
		r.sinceNotify = 0
		select {
		case r.notifications <- m:
		default:
		}
		return true
	}
	return false
}

// fresher implements the RFC 7641 §3.4 V1<V2 predicate: v1 is the
// already-accepted sequence number, v2 the candidate.
func fresher(v1, v2 uint32, t1, t2 time.Time) bool {
	const rollover = 1 << 23
	switch {
	case v1 < v2 && v2-v1 < rollover:
		return true
	case v1 > v2 && v1-v2 > rollover:
		return true
	case t2.After(t1.Add(128 * time.Second)):
		return true
	default:
		return false
	}
}

// Tick should be called once per reregistration-check interval tick
// (driven by the client's event loop) to evaluate whether the feed has
// gone quiet and a reregistration is due.
func (r *Relation) Tick() {
	r.mu.Lock()
	r.sinceNotify++
	quiet := r.config.NotificationCheckIntervalCount > 0 && r.sinceNotify >= r.config.NotificationCheckIntervalCount
	r.mu.Unlock()

	if quiet {
		r.reregisterAfterBackoff()
	}
}

// CheckStale evaluates the time-based reregistration trigger; the
// client's event loop calls this on a timer of
// notificationCheckIntervalTime.
func (r *Relation) CheckStale() {
	r.mu.Lock()
	stale := time.Since(r.lastTimestamp) > r.config.NotificationCheckIntervalTime
	r.mu.Unlock()

	if stale {
		r.reregisterAfterBackoff()
	}
}

func (r *Relation) reregisterAfterBackoff() {
	time.AfterFunc(r.config.NotificationReregistrationBackoff, func() {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed || r.reregister == nil {
			return
		}
		if err := r.reregister(); err != nil {
			r.logger.Warn("observe reregistration failed",
				slog.String("endpoint", r.Endpoint),
				slog.String("error", err.Error()))
		}
	})
}

// Cancel ends the relation. Proactive cancellation (GET with Observe=1)
// is the caller's responsibility before calling Cancel; reactive
// cancellation just stops delivery here and lets the next notification
// trigger an RST via the exchange matcher.
func (r *Relation) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.notifications)
}

// Manager tracks every active Relation for a client, so reregistration
// timers can be driven centrally.
type Manager struct {
	mu        sync.RWMutex
	relations map[string]*Relation
	config    Config
	logger    *slog.Logger
}

// NewManager creates an empty observe Manager.
func NewManager(config Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{relations: make(map[string]*Relation), config: config, logger: logger}
}

// Add registers a Relation under a caller-chosen key (normally the
// endpoint+token pair rendered as a string).
func (m *Manager) Add(key string, r *Relation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relations[key] = r
}

// Remove drops a Relation, e.g. after Cancel.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.relations, key)
}

// Run drives every relation's time-based staleness check on
// notificationCheckIntervalTime until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m.config.NotificationCheckIntervalTime <= 0 {
		return
	}
	ticker := time.NewTicker(m.config.NotificationCheckIntervalTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			relations := make([]*Relation, 0, len(m.relations))
			for _, r := range m.relations {
				relations = append(relations, r)
			}
			m.mu.RUnlock()
			for _, r := range relations {
				r.CheckStale()
			}
		}
	}
}
