// Package pool keeps one upstream client per account for the lifetime
// of the process and serializes its use. Upstream clients are not safe
// for concurrent operations, so two channels routed to the same account
// run one after the other.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/store"
	"github.com/Comrade19632/tgParser/internal/upstream"
)

type entry struct {
	mu        sync.Mutex
	client    upstream.Client
	refcount  int
	connected bool
}

// Pool is process-local; there is no cross-process client sharing.
type Pool struct {
	logger  *logger.Logger
	factory upstream.Factory

	mu      sync.Mutex
	entries map[int64]*entry
}

func New(log *logger.Logger, factory upstream.Factory) *Pool {
	return &Pool{
		logger:  log.WithComponent("pool"),
		factory: factory,
		entries: make(map[int64]*entry),
	}
}

func (p *Pool) entryFor(acc store.Account) (*entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ent, ok := p.entries[acc.ID]; ok {
		return ent, nil
	}

	client, err := p.factory.Build(acc)
	if err != nil {
		return nil, err
	}

	ent := &entry{client: client}
	p.entries[acc.ID] = ent
	return ent, nil
}

// WithConnected runs body with a connected client for the account. The
// first holder connects lazily; the last release disconnects. The
// per-entry lock is held for the whole body, so all use of one
// account's client is serialized.
func (p *Pool) WithConnected(ctx context.Context, acc store.Account, body func(upstream.Client) error) error {
	ent, err := p.entryFor(acc)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	ent.refcount++
	defer func() {
		ent.refcount--
		if ent.refcount == 0 && ent.connected {
			if err := ent.client.Disconnect(); err != nil {
				p.logger.Warn("client disconnect failed",
					slog.Int64("account_id", acc.ID),
					slog.Any("error", err))
			}
			ent.connected = false
		}
	}()

	if !ent.connected {
		if err := ent.client.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect account %d: %w", acc.ID, err)
		}
		ent.connected = true
	}

	return body(ent.client)
}
