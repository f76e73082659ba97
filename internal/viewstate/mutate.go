package viewstate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/codex/internal/model"
)

// MutateState は1回の更新の結果。取得の状態とは独立している。
type MutateState struct {
	Status      Status
	Err         error
	FieldErrors map[string]string
	Value       any
	Shared      bool // 実行中の同じ更新に相乗りした場合にtrue
}

// Succeeded は更新に成功したかを返す。
func (m MutateState) Succeeded() bool { return m.Status == Success }

// Invalid は入力検証で送信が止められたかを返す。
func (m MutateState) Invalid() bool { return len(m.FieldErrors) > 0 }

// Message はエラー時に表示するメッセージを返す。
func (m MutateState) Message() string {
	if m.Status != Error || m.Err == nil {
		return ""
	}
	return Describe(m.Err)
}

// Mutation はセッションのトークンを使って1回の書き込みを行う。
type Mutation func(ctx context.Context, session *model.Session) (any, error)

// Mutator は更新を実行する。同じキーの更新が実行中の場合は新たに書き込まず、その結果を共有する。
type Mutator struct {
	group singleflight.Group
}

// NewMutator はMutatorを生成する。
func NewMutator() *Mutator {
	return &Mutator{}
}

// Submit は入力を検証し、問題がなければ書き込みを1回実行する。
// validateはフィールド名からメッセージへのマップを返す。空でなければ書き込みは行わない。
// keyは検証の後に呼ばれるため、正規化済みの入力からキーを組み立てられる。
func (m *Mutator) Submit(ctx context.Context, validate func() map[string]string, key func() string, do Mutation) MutateState {
	// 1. 入力検証（通信前に止める）
	if validate != nil {
		if errs := validate(); len(errs) > 0 {
			return MutateState{Status: Error, FieldErrors: errs}
		}
	}

	// 2. セッションを取得
	session, err := RequireSession(ctx)
	if err != nil {
		return MutateState{Status: Error, Err: err}
	}

	// 3. 同じキーの重複送信は1回の書き込みにまとめる。
	// 書き込みはクライアントの切断に関わらず完了させる
	writeCtx := context.WithoutCancel(ctx)
	v, err, shared := m.group.Do(key(), func() (any, error) {
		return do(writeCtx, session)
	})
	if err != nil {
		return MutateState{Status: Error, Err: err, Shared: shared}
	}
	return MutateState{Status: Success, Value: v, Shared: shared}
}

// ValueAs は更新結果の値を型付きで取り出す。
func ValueAs[T any](m MutateState) (T, bool) {
	v, ok := m.Value.(T)
	return v, ok
}

// MutationKey はセッション、操作名、送信内容から更新キーを組み立てる。
// 送信内容はハッシュにまとめる。入力が1文字でも違えば別の更新として扱う。
func MutationKey(sessionID, action string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte{':'})
		h.Write([]byte(p))
	}
	return sessionID + "|" + action + "|" + hex.EncodeToString(h.Sum(nil))
}

// StaticKey は入力に依存しない更新キーを返す。
func StaticKey(key string) func() string {
	return func() string { return key }
}
