/*
Copyright 2026 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package audit provides the abstract sink the core emits audit events
// through. Audit-log persistence itself is an external collaborator; this
// package only defines the contract and a couple of simple implementations
// useful for wiring the core together and for tests.
package audit

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// Event is one audit record emitted by the Runtime Control Plane or the
// Session State Machine.
type Event struct {
	Type      string
	Actor     string
	Role      string
	Before    string
	After     string
	Reason    string
	RequestID string
	At        time.Time
}

// Store is the external collaborator contract: something that durably
// persists an audit Event. Out of scope for this core; callers inject a
// concrete implementation that talks to the audit-log service.
type Store interface {
	StoreAudit(ctx context.Context, event Event) error
	Flush(ctx context.Context) error
	Close() error
}

// Sink is what core packages depend on to emit audit events. It never
// returns an error: a failure to record an audit event must never fail the
// caller's operation.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// Client adapts a Store into a Sink, logging (and swallowing) store
// failures instead of propagating them to callers.
type Client struct {
	store Store
	log   logr.Logger
}

func NewClient(store Store, log logr.Logger) *Client {
	return &Client{store: store, log: log}
}

func (c *Client) Record(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if err := c.store.StoreAudit(ctx, event); err != nil {
		c.log.Error(err, "failed to store audit event", "type", event.Type, "actor", event.Actor)
	}
}

// NoopSink discards every event. Useful as a default when no audit store
// has been wired yet.
type NoopSink struct{}

func (NoopSink) Record(context.Context, Event) {}

// BufferedSink accumulates events in memory — useful for unit tests
// asserting on emitted events without a real store.
type BufferedSink struct {
	Events []Event
}

func (b *BufferedSink) Record(_ context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	b.Events = append(b.Events, event)
}
