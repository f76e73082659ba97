package viewstate

import (
	"context"
	"sync"
)

// Coordinator は同じキーの取得が再実行された場合に古い取得を中断する。
// キーはセッションとページの組で、同じ利用者が同じページを再読み込みした場合に古い方が破棄される。
type Coordinator struct {
	mu       sync.Mutex
	inflight map[string]*flight
}

type flight struct {
	cancel context.CancelFunc
}

// NewCoordinator はCoordinatorを生成する。
func NewCoordinator() *Coordinator {
	return &Coordinator{inflight: make(map[string]*flight)}
}

// Begin はキーの取得を開始する。同じキーで実行中の取得があれば中断させる。
// 返された関数は取得の完了時に必ず呼ぶ。
func (c *Coordinator) Begin(ctx context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	f := &flight{cancel: cancel}

	c.mu.Lock()
	if prev, ok := c.inflight[key]; ok {
		prev.cancel()
	}
	c.inflight[key] = f
	c.mu.Unlock()

	return ctx, func() {
		c.mu.Lock()
		if c.inflight[key] == f {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
		cancel()
	}
}

// InFlight は実行中の取得数を返す。
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// FetchKey はセッションとページから取得キーを組み立てる。
func FetchKey(sessionID, page string) string {
	return sessionID + "|" + page
}
