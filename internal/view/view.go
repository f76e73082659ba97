// Package view はサーバー描画ページのテンプレートと静的ファイルを提供する。
//
// 各ページは layout.html と partials.html に自身のテンプレートを重ねて描画する。
// partials.html のテンプレートは単体でもフラグメントとして描画できる。
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/hitoshi/codex/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

const (
	layoutFile   = "templates/layout.html"
	partialsFile = "templates/partials.html"
)

// Flash はページ上部に表示する一時的な通知。
type Flash struct {
	Kind    string // success | error
	Message string
}

// NavItem はナビゲーションバーの1項目。
type NavItem struct {
	Key   string
	Label string
	Href  string
}

// Navigation はログイン中に表示するナビゲーションバーの項目。
var Navigation = []NavItem{
	{Key: "dashboard", Label: "ダッシュボード", Href: "/dashboard"},
	{Key: "discover", Label: "発見", Href: "/discover"},
	{Key: "library", Label: "本棚", Href: "/library"},
	{Key: "groups", Label: "読書グループ", Href: "/groups"},
	{Key: "profile", Label: "プロフィール", Href: "/profile"},
}

// Page はレイアウトに渡す1ページ分の描画データ。
type Page struct {
	Title     string
	Nav       string // 現在のナビゲーション項目のKey
	CSRFToken string
	SignedIn  bool
	Flash     *Flash
	Data      any
}

// GroupCard はグループ一覧の1枚のカード。一覧とフラグメントの両方で使う。
type GroupCard struct {
	Membership model.Membership
	CSRFToken  string
}

// Renderer はページとフラグメントを描画する。
type Renderer struct {
	pages     map[string]*template.Template
	fragments *template.Template
}

// New は埋め込みテンプレートを全て解析したRendererを生成する。
func New() (*Renderer, error) {
	entries, err := fs.ReadDir(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}

	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, e := range entries {
		file := path.Join("templates", e.Name())
		if file == layoutFile || file == partialsFile {
			continue
		}
		t, err := template.New(e.Name()).Funcs(funcs).ParseFS(templateFS, layoutFile, partialsFile, file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", e.Name(), err)
		}
		r.pages[strings.TrimSuffix(e.Name(), ".html")] = t
	}

	r.fragments, err = template.New("partials.html").Funcs(funcs).ParseFS(templateFS, partialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse partials: %w", err)
	}
	return r, nil
}

// Render はページをレイアウト付きで描画する。
// 描画が完了してから書き込むため、テンプレートのエラーで途中までのHTMLが返ることはない。
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, page *Page) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page template: %s", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", page); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}
	writeHTML(w, status, buf.Bytes())
	return nil
}

// RenderFragment はpartials.htmlに定義したテンプレートを単体で描画する。
func (r *Renderer) RenderFragment(w http.ResponseWriter, status int, name string, data any) error {
	var buf bytes.Buffer
	if err := r.fragments.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("failed to render fragment %s: %w", name, err)
	}
	writeHTML(w, status, buf.Bytes())
	return nil
}

// Has はページテンプレートが存在するかを返す。
func (r *Renderer) Has(name string) bool {
	_, ok := r.pages[name]
	return ok
}

// StaticHandler は /static/ 配下の埋め込みファイルを配信するハンドラーを返す。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServerFS(sub))
}

func writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(body)
}
