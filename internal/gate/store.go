package gate

import "sync/atomic"

// Store は現在のアクセス方針を保持する。
// 設定ファイルの再読み込みとリクエスト処理が並行するため、ポインタを原子的に差し替える。
type Store struct {
	current atomic.Pointer[Policy]
}

// NewStore は初期方針を保持するStoreを生成する。nilの場合は既定の方針を使う。
func NewStore(initial *Policy) *Store {
	if initial == nil {
		initial = DefaultPolicy()
	}
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Load は現在の方針を返す。
func (s *Store) Load() *Policy {
	return s.current.Load()
}

// Swap は方針を差し替え、以前の方針を返す。
func (s *Store) Swap(p *Policy) *Policy {
	return s.current.Swap(p)
}
