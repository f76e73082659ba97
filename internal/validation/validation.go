// Package validation はフォーム入力の検証を提供する。
// 検証は通信の前にローカルで行い、失敗した場合は送信しない。
package validation

import (
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Errors はフィールド名からエラーメッセージへのマップ。
type Errors map[string]string

// Add はフィールドにエラーを設定する。同じフィールドの最初のエラーを優先する。
func (e Errors) Add(field, message string) {
	if _, exists := e[field]; !exists {
		e[field] = message
	}
}

// HasErrors はエラーがあるかを返す。
func (e Errors) HasErrors() bool {
	return len(e) > 0
}

// Get はフィールドのエラーメッセージを返す。
func (e Errors) Get(field string) string {
	return e[field]
}

// Normalize は入力をNFC正規化し、前後の空白を取り除く。
// 長さの判定は正規化後の文字数（ルーン数）で行う。
func Normalize(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// Length は正規化後の文字数を返す。
func Length(s string) int {
	return utf8.RuneCountInString(s)
}

// SameUsername はユーザー名を正規化・大文字小文字を無視して比較する。
func SameUsername(a, b string) bool {
	return strings.EqualFold(Normalize(a), Normalize(b))
}

// IsEmail はメールアドレスの形式を満たすかを判定する。
// 表示名付きの形式（"Name <a@example.com>"）は受け付けない。
func IsEmail(s string) bool {
	if s == "" || strings.ContainsAny(s, " <>") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// IsURL はhttpまたはhttpsの絶対URLかを判定する。
func IsURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func required(errs Errors, field, value, message string) bool {
	if value == "" {
		errs.Add(field, message)
		return false
	}
	return true
}

func minLength(errs Errors, field, value string, min int, message string) {
	if Length(value) < min {
		errs.Add(field, message)
	}
}

func maxLength(errs Errors, field, value string, max int, message string) {
	if Length(value) > max {
		errs.Add(field, message)
	}
}

func email(errs Errors, field, value string) {
	if !required(errs, field, value, "メールアドレスを入力してください。") {
		return
	}
	if !IsEmail(value) {
		errs.Add(field, "メールアドレスの形式が正しくありません。")
	}
}

func optionalURL(errs Errors, field, value, message string) {
	if value != "" && !IsURL(value) {
		errs.Add(field, message)
	}
}

// normalizeList は各要素を正規化し、空要素と重複を取り除く。
func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = Normalize(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
