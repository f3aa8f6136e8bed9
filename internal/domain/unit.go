package domain

import (
	"context"
	"sync"
)

// Transactor runs fn as one atomic unit over the pool's ticket registry and
// journal. Writes made with the context passed to fn are kept together when
// fn returns nil and discarded together otherwise.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type unitKey struct{}

type unit struct {
	mu          sync.Mutex
	afterCommit []func()
	onRollback  []func()
}

// BeginUnit attaches a fresh unit to ctx. Every BeginUnit is paired with an
// EndUnit on the returned context.
func BeginUnit(ctx context.Context) context.Context {
	return context.WithValue(ctx, unitKey{}, &unit{})
}

// InUnit reports whether ctx carries an open unit.
func InUnit(ctx context.Context) bool {
	_, ok := ctx.Value(unitKey{}).(*unit)
	return ok
}

// AfterCommit runs fn once the unit carried by ctx commits. Without a unit
// the write is already final and fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	u, ok := ctx.Value(unitKey{}).(*unit)
	if !ok {
		fn()
		return
	}
	u.mu.Lock()
	u.afterCommit = append(u.afterCommit, fn)
	u.mu.Unlock()
}

// OnRollback registers fn to undo a write if the unit carried by ctx is
// discarded. Without a unit it does nothing.
func OnRollback(ctx context.Context, fn func()) {
	u, ok := ctx.Value(unitKey{}).(*unit)
	if !ok {
		return
	}
	u.mu.Lock()
	u.onRollback = append(u.onRollback, fn)
	u.mu.Unlock()
}

// EndUnit closes the unit carried by ctx. A nil err runs the commit hooks in
// registration order; otherwise the rollback hooks run newest first.
func EndUnit(ctx context.Context, err error) {
	u, ok := ctx.Value(unitKey{}).(*unit)
	if !ok {
		return
	}
	u.mu.Lock()
	commit, rollback := u.afterCommit, u.onRollback
	u.afterCommit, u.onRollback = nil, nil
	u.mu.Unlock()

	if err == nil {
		for _, fn := range commit {
			fn()
		}
		return
	}
	for i := len(rollback) - 1; i >= 0; i-- {
		rollback[i]()
	}
}

// LocalUnits is the Transactor for in-process stores. Their writes land
// immediately; a failed unit runs the undo hooks the stores registered.
type LocalUnits struct{}

// InTx implements Transactor. A unit already open on ctx is joined.
func (LocalUnits) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InUnit(ctx) {
		return fn(ctx)
	}
	uctx := BeginUnit(ctx)
	err := fn(uctx)
	EndUnit(uctx, err)
	return err
}

var _ Transactor = LocalUnits{}
