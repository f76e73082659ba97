// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, group, library, profile, upstream, system
	Action   string // ユーザー向け対処方法
	Status   int    // 上流サービスが返したHTTPステータス（上流エラー以外は0）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeNotAuthenticated    = "NOT_AUTHENTICATED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken          = "EMAIL_TAKEN"
	ErrCodeUsernameTaken       = "USERNAME_TAKEN"
	ErrCodeSessionExpired      = "SESSION_EXPIRED"
	ErrCodeGroupNotFound       = "GROUP_NOT_FOUND"
	ErrCodeNotGroupAdmin       = "NOT_GROUP_ADMIN"
	ErrCodeProfileNotFound     = "PROFILE_NOT_FOUND"
	ErrCodeInvalidImage        = "INVALID_IMAGE"
	ErrCodeInvalidInvitation   = "INVALID_INVITATION"
	ErrCodeInvalidStatusFilter = "INVALID_STATUS_FILTER"
	ErrCodeBookNotFound        = "BOOK_NOT_FOUND"
	ErrCodeUpstream            = "UPSTREAM_ERROR"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewNotAuthenticatedError はセッションが必要な処理を未認証で実行した場合のエラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードが誤っている場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewEmailTakenError は登録済みメールアドレスでサインアップした場合のエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に使用されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewUsernameTakenError はユーザー名が既に使われている場合のエラーを生成する。
func NewUsernameTakenError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUsernameTaken,
		Message:  fmt.Sprintf("ユーザー名「%s」は既に使用されています。", username),
		Category: "validation",
		Action:   "別のユーザー名を入力してください。",
	}
}

// NewSessionExpiredError はセッションの更新に失敗した場合のエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れました。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewGroupNotFoundError はグループが見つからない場合のエラーを生成する。
func NewGroupNotFoundError(groupID string) *APIError {
	return &APIError{
		Code:     ErrCodeGroupNotFound,
		Message:  fmt.Sprintf("指定されたグループが見つかりません: %s", groupID),
		Category: "group",
		Action:   "グループ一覧から選択し直してください。",
	}
}

// NewNotGroupAdminError は管理者権限が必要な操作を一般メンバーが実行した場合のエラーを生成する。
func NewNotGroupAdminError() *APIError {
	return &APIError{
		Code:     ErrCodeNotGroupAdmin,
		Message:  "この操作はグループの管理者のみ実行できます。",
		Category: "group",
		Action:   "グループの管理者に依頼してください。",
	}
}

// NewProfileNotFoundError はプロフィールが見つからない場合のエラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "プロフィールが見つかりません。",
		Category: "profile",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidImageError はアップロード画像が不正な場合のエラーを生成する。
func NewInvalidImageError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImage,
		Message:  fmt.Sprintf("画像を読み込めませんでした: %s", reason),
		Category: "validation",
		Action:   "PNG、JPEG、GIF形式の5MB以下の画像を選択してください。",
	}
}

// NewInvalidInvitationError は招待リンクが不完全な場合のエラーを生成する。
func NewInvalidInvitationError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInvitation,
		Message:  "招待リンクが無効か、不完全です。",
		Category: "group",
		Action:   "招待メールのリンクをもう一度開いてください。",
	}
}

// NewInvalidStatusFilterError は本棚の読書状態フィルタが不正な場合のエラーを生成する。
func NewInvalidStatusFilterError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatusFilter,
		Message:  fmt.Sprintf("無効な読書状態です: %s", status),
		Category: "validation",
		Action:   "all、to_read、reading、finished のいずれかを指定してください。",
	}
}

// NewBookNotFoundError は検索結果に指定の本が見つからない場合のエラーを生成する。
func NewBookNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeBookNotFound,
		Message:  fmt.Sprintf("検索結果に指定された本が見つかりません: %s", id),
		Category: "library",
		Action:   "もう一度検索してから追加してください。",
	}
}

// NewUpstreamError は上流サービスがエラーを返した場合のエラーを生成する。
// messageが空の場合はfallbackを表示用メッセージとして使用する。
func NewUpstreamError(status int, message, fallback string) *APIError {
	if message == "" {
		message = fallback
	}
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  message,
		Category: "upstream",
		Action:   "入力内容を確認し、しばらく待ってから再度お試しください。",
		Status:   status,
	}
}

// NewUpstreamUnavailableError は上流サービスに到達できない場合のエラーを生成する。
func NewUpstreamUnavailableError(target string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  fmt.Sprintf("%sに接続できませんでした。", target),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーの表示用エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
