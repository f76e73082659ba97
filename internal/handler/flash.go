package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hitoshi/codex/internal/view"
)

const (
	flashCookieName = "flash"
	flashMaxAge     = 60 // 秒
)

// FlashStore はリダイレクト後に表示する通知を署名付きCookieで受け渡す。
// 値は base64(JSON) + "." + base64(HMAC-SHA256) で、改ざんされたCookieは無視する。
type FlashStore struct {
	secret []byte
	secure bool
}

// NewFlashStore はFlashStoreを生成する。
func NewFlashStore(secret string, secure bool) *FlashStore {
	return &FlashStore{secret: []byte(secret), secure: secure}
}

// Set は次のページ表示で1回だけ表示する通知を設定する。
func (s *FlashStore) Set(w http.ResponseWriter, kind, message string) {
	payload, err := json.Marshal(view.Flash{Kind: kind, Message: message})
	if err != nil {
		return
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    encoded + "." + s.sign(encoded),
		Path:     "/",
		MaxAge:   flashMaxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Pop は通知を取り出してCookieを削除する。通知がない場合や署名が不正な場合はnilを返す。
func (s *FlashStore) Pop(w http.ResponseWriter, r *http.Request) *view.Flash {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	encoded, sig, ok := strings.Cut(cookie.Value, ".")
	if !ok || !hmac.Equal([]byte(sig), []byte(s.sign(encoded))) {
		return nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}
	var f view.Flash
	if err := json.Unmarshal(payload, &f); err != nil || f.Message == "" {
		return nil
	}
	return &f
}

func (s *FlashStore) sign(value string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
