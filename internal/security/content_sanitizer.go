package security

import (
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer は発見ページに表示する記事概要のHTMLを無害化する。
// 概要はカード内に収まる短い文章として表示するため、見出しや画像は落とし、
// 段落、改行、強調、リンク、リストのみを残す。
type Sanitizer struct {
	summary *bluemonday.Policy
	text    *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。ポリシーはゴルーチン間で共有できる。
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "strong", "em", "b", "i", "ul", "ol", "li", "blockquote")

	// リンクは絶対URLのhttp(s)のみ。新しいタブで開き、参照元を送らない
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemeWithCustomPolicy("https", func(*url.URL) bool { return true })
	p.AllowURLSchemeWithCustomPolicy("http", func(*url.URL) bool { return true })
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &Sanitizer{
		summary: p,
		text:    bluemonday.StrictPolicy(),
	}
}

// Sanitize は許可したタグのみを残したHTMLを返す。
func (s *Sanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.summary.Sanitize(raw))
}

// PlainText はタグを全て除いた文字列をmaxRunes文字までに切り詰めて返す。
// 切り詰めた場合は末尾に「…」を付ける。maxRunesが0以下なら切り詰めない。
func (s *Sanitizer) PlainText(raw string, maxRunes int) string {
	text := html.UnescapeString(s.text.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}
