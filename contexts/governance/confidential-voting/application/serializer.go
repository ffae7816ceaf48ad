package application

import (
	"context"
	"sync"

	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
)

type actionKey struct{}

// Serializer is the process-wide single-writer discipline. Mutating actions run
// under the write lock and reads under the read lock, so no action ever
// observes another action's partial updates.
//
// The context passed to fn is marked; an action that calls back into the
// Serializer with that context is rejected with ErrReentrantCall rather than
// deadlocking. The lock is released on every exit path, including panics.
type Serializer struct {
	mu sync.RWMutex
}

func NewSerializer() *Serializer {
	return &Serializer{}
}

// Exclusive runs a mutating action.
func (s *Serializer) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inAction(ctx) {
		return domainerrors.ErrReentrantCall
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(context.WithValue(ctx, actionKey{}, s))
}

// Shared runs a read-only action.
func (s *Serializer) Shared(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inAction(ctx) {
		return domainerrors.ErrReentrantCall
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(context.WithValue(ctx, actionKey{}, s))
}

func (s *Serializer) inAction(ctx context.Context) bool {
	owner, ok := ctx.Value(actionKey{}).(*Serializer)
	return ok && owner == s
}
