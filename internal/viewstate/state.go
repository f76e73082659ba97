// Package viewstate はページの取得・更新サイクルと表示状態を提供する。
//
// 1回のページ描画は Cycle.Run で取得し、その結果の State を描画する。
// 状態は idle -> loading -> success|error の順にのみ遷移し、
// loading 中はデータを持たない。空の結果はエラーではなく Empty として表す。
package viewstate

import (
	"context"
	"errors"

	"github.com/hitoshi/codex/internal/model"
)

// Status は取得・更新の状態。
type Status int

const (
	Idle Status = iota
	Loading
	Success
	Error
)

// String は状態名を返す。テンプレートのクラス名にも使う。
func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

// genericErrorMessage はAPIError以外のエラーに表示するメッセージ。
const genericErrorMessage = "内部エラーが発生しました。"

// ErrNotAuthenticated はセッションのないコンテキストで取得・更新した場合のエラー。
var ErrNotAuthenticated error = model.NewNotAuthenticatedError()

// State はページが描画する取得結果。
type State[T any] struct {
	Status Status
	Data   T
	Err    error
	Empty  bool
}

// Loading は取得中かを返す。
func (s State[T]) Loading() bool { return s.Status == Loading }

// Failed は取得に失敗したかを返す。
func (s State[T]) Failed() bool { return s.Status == Error }

// IsEmpty は取得に成功し、結果が空かを返す。
func (s State[T]) IsEmpty() bool { return s.Status == Success && s.Empty }

// HasData は描画すべきデータがあるかを返す。成功かつ空でない場合のみtrue。
func (s State[T]) HasData() bool { return s.Status == Success && !s.Empty }

// Superseded は新しい取得によって中断されたかを返す。
// 中断された結果は描画せずに破棄する。
func (s State[T]) Superseded() bool {
	return s.Status == Error && errors.Is(s.Err, context.Canceled)
}

// Message はエラー時に表示するメッセージを返す。
func (s State[T]) Message() string {
	if s.Status != Error {
		return ""
	}
	return Describe(s.Err)
}

// Describe はエラーをユーザー向けメッセージに変換する。
// APIErrorはそのメッセージ、それ以外は一般的なメッセージを返す。
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return genericErrorMessage
}

// IsAPIError はエラーがユーザー向けのAPIErrorかを返す。
// falseの場合、呼び出し側は詳細をログに残す。
func IsAPIError(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr)
}
