package viewstate

import (
	"context"
	"errors"
	"sync"

	"github.com/hitoshi/codex/internal/middleware"
	"github.com/hitoshi/codex/internal/model"
)

// Query はセッションを使ってページのデータを取得する。
type Query[T any] func(ctx context.Context, session *model.Session) (T, error)

// Cycle は1回のページ取得の状態遷移を管理する。
type Cycle[T any] struct {
	mu        sync.Mutex
	state     State[T]
	observers []func(State[T])
}

// NewCycle はidle状態のCycleを生成する。
func NewCycle[T any]() *Cycle[T] {
	return &Cycle[T]{}
}

// OnTransition は状態遷移ごとに呼ばれる関数を登録する。
func (c *Cycle[T]) OnTransition(fn func(State[T])) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Snapshot は現在の状態を返す。
func (c *Cycle[T]) Snapshot() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run はクエリを実行して結果の状態を返す。
// セッションがない場合はクエリを呼ばずにErrNotAuthenticatedで確定する。
// 中断（context.Canceled）された取得は観測者に通知せずに確定する。
func (c *Cycle[T]) Run(ctx context.Context, query Query[T]) State[T] {
	// 1. loading へ遷移。前回のデータは保持しない
	c.transition(State[T]{Status: Loading}, true)

	// 2. セッションを取得
	session, err := RequireSession(ctx)
	if err != nil {
		return c.transition(State[T]{Status: Error, Err: err}, true)
	}

	// 3. クエリを実行し、結果に関わらず loading を終える
	data, err := query(ctx, session)
	if err != nil {
		var zero T
		canceled := errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
		if canceled {
			err = context.Canceled
		}
		return c.transition(State[T]{Status: Error, Data: zero, Err: err}, !canceled)
	}
	return c.transition(State[T]{Status: Success, Data: data, Empty: isEmpty(data)}, true)
}

func (c *Cycle[T]) transition(next State[T], notify bool) State[T] {
	c.mu.Lock()
	c.state = next
	observers := append([]func(State[T]){}, c.observers...)
	c.mu.Unlock()

	if notify {
		for _, fn := range observers {
			fn(next)
		}
	}
	return next
}

// Fetch は新しいCycleでクエリを1回実行する。
func Fetch[T any](ctx context.Context, query Query[T]) State[T] {
	return NewCycle[T]().Run(ctx, query)
}

// RequireSession はゲートが注入したセッションを返す。
func RequireSession(ctx context.Context) (*model.Session, error) {
	session, ok := middleware.SessionFromContext(ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return session, nil
}
