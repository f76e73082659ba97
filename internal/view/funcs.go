package view

import (
	"html/template"
	"strings"
	"time"
	"unicode/utf8"
)

var jst = time.FixedZone("JST", 9*60*60)

var funcs = template.FuncMap{
	"date":       formatDate,
	"datetime":   formatDateTime,
	"summary":    summaryHTML,
	"fieldError": fieldError,
	"join":       strings.Join,
	"stars":      stars,
	"contains":   contains,
	"initial":    initial,
	"seq":        seq,
	"navigation": func() []NavItem { return Navigation },
}

// formatDate は time.Time または *time.Time を日本語の日付にする。nilやゼロ値は空文字列。
func formatDate(v any) string {
	t, ok := timeValue(v)
	if !ok {
		return ""
	}
	return t.In(jst).Format("2006年1月2日")
}

func formatDateTime(v any) string {
	t, ok := timeValue(v)
	if !ok {
		return ""
	}
	return t.In(jst).Format("2006/01/02 15:04")
}

func timeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	default:
		return time.Time{}, false
	}
}

// summaryHTML は取得時にサニタイズ済みの記事要約をHTMLとして出力する。
func summaryHTML(s string) template.HTML {
	return template.HTML(s)
}

func fieldError(errs map[string]string, field string) string {
	return errs[field]
}

// stars は評価（1〜5）を星で表す。
func stars(rating int) string {
	rating = min(max(rating, 0), 5)
	return strings.Repeat("★", rating) + strings.Repeat("☆", 5-rating)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// initial はアバター画像がない場合に表示する頭文字を返す。
func initial(name string) string {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(name))
	if r == utf8.RuneError {
		return "?"
	}
	return strings.ToUpper(string(r))
}

// seq は 0..n-1 を返す。招待フォームの入力行に使う。
func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
