// Package discover は発見ページ（読書ニュース）のフィード解決と記事一覧を提供する。
package discover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// ErrFeedNotFound はURLからフィードを見つけられなかったことを表す。
var ErrFeedNotFound = errors.New("feed not found")

// FeedKind はフィードの形式。
type FeedKind string

const (
	FeedKindRSS  FeedKind = "rss"
	FeedKindAtom FeedKind = "atom"
)

// FeedLink はHTMLの<link rel="alternate">から見つけたフィード。
type FeedLink struct {
	URL   string
	Kind  FeedKind
	Title string
}

// URLGuard は取得先URLの検証と安全なHTTPクライアントの生成を行う。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Resolver は設定されたURLをフィードURLに解決する。
// URLがフィードそのものならそのまま、HTMLページならheadのリンクから選ぶ。
type Resolver struct {
	guard   URLGuard
	timeout time.Duration
	maxSize int64
}

// NewResolver はResolverを生成する。
func NewResolver(guard URLGuard, timeout time.Duration, maxSize int64) *Resolver {
	return &Resolver{guard: guard, timeout: timeout, maxSize: maxSize}
}

// Resolve はrawURLを取得し、フィードURLを返す。
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	// 1. 取得先の検証
	if err := r.guard.ValidateURL(rawURL); err != nil {
		return "", fmt.Errorf("取得先URLが不正です: %w", err)
	}

	// 2. 取得
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.8")

	resp, err := r.guard.NewSafeClient(r.timeout, r.maxSize).Do(req)
	if err != nil {
		return "", fmt.Errorf("フィード検出のリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("フィード検出でHTTPステータス %d が返されました", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxSize))
	if err != nil {
		return "", fmt.Errorf("レスポンスの読み取りに失敗しました: %w", err)
	}

	// 3. フィードそのものか、HTMLのリンクから選ぶ
	contentType := resp.Header.Get("Content-Type")
	if IsFeed(contentType, body) {
		return rawURL, nil
	}
	if !strings.Contains(mediaType(contentType), "html") {
		return "", ErrFeedNotFound
	}
	best, ok := SelectFeed(FeedLinks(body, rawURL), rawURL)
	if !ok {
		return "", ErrFeedNotFound
	}
	return best.URL, nil
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mt)
}

// IsFeed はContent-Typeとボディの先頭からRSS/Atomかを判定する。
// 汎用のXML型（text/xml, application/xml）はルート要素を見て判断する。
func IsFeed(contentType string, body []byte) bool {
	switch mediaType(contentType) {
	case "application/rss+xml", "application/atom+xml", "application/rdf+xml":
		return true
	case "text/xml", "application/xml":
		return looksLikeFeed(body)
	default:
		return false
	}
}

func looksLikeFeed(body []byte) bool {
	head := body
	if len(head) > 4096 {
		head = head[:4096]
	}
	s := strings.ToLower(string(head))
	switch {
	case strings.Contains(s, "<rss"), strings.Contains(s, "<rdf:rdf"):
		return true
	case strings.Contains(s, "<feed") && strings.Contains(s, "http://www.w3.org/2005/atom"):
		return true
	}
	return false
}

// FeedLinks はHTMLのhead内の<link rel="alternate">からフィードを列挙する。
// hrefはbaseURLを基準に絶対URLへ解決する。
func FeedLinks(body []byte, baseURL string) []FeedLink {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var links []FeedLink
	z := html.NewTokenizer(bytes.NewReader(body))
	inHead := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return links
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "head":
				inHead = true
				continue
			case "body":
				return links
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}
			if l, ok := readFeedLink(z, base); ok {
				links = append(links, l)
			}
		}
	}
}

func readFeedLink(z *html.Tokenizer, base *url.URL) (FeedLink, bool) {
	var rel, typ, href, title string
	for {
		key, val, more := z.TagAttr()
		switch strings.ToLower(string(key)) {
		case "rel":
			rel = strings.ToLower(string(val))
		case "type":
			typ = strings.ToLower(string(val))
		case "href":
			href = strings.TrimSpace(string(val))
		case "title":
			title = string(val)
		}
		if !more {
			break
		}
	}

	if !hasToken(rel, "alternate") || href == "" {
		return FeedLink{}, false
	}
	var kind FeedKind
	switch typ {
	case "application/rss+xml":
		kind = FeedKindRSS
	case "application/atom+xml":
		kind = FeedKindAtom
	default:
		return FeedLink{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return FeedLink{}, false
	}
	return FeedLink{URL: base.ResolveReference(ref).String(), Kind: kind, Title: title}, true
}

// relは空白区切りの複数値を取りうる
func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if f == token {
			return true
		}
	}
	return false
}

// SelectFeed は候補から1つを選ぶ。
// 優先順位は 同一ホスト > Atom > 出現順。
func SelectFeed(links []FeedLink, pageURL string) (FeedLink, bool) {
	if len(links) == 0 {
		return FeedLink{}, false
	}
	host := hostOf(pageURL)

	best, bestScore := 0, -1
	for i, l := range links {
		score := 0
		if hostOf(l.URL) == host {
			score += 2
		}
		if l.Kind == FeedKindAtom {
			score++
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return links[best], true
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
