package gate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPolicy_Decide(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name        string
		path        string
		hasIdentity bool
		want        Action
		location    string
	}{
		{"未ログインで非公開パス", "/dashboard", false, RedirectLanding, "/"},
		{"未ログインでグループ編集", "/groups/abc/edit", false, RedirectLanding, "/"},
		{"ログイン済みでランディング", "/", true, RedirectHome, "/dashboard"},
		{"未ログインでランディング", "/", false, Forward, ""},
		{"未ログインでログイン画面", "/auth/login", false, Forward, ""},
		{"未ログインで招待受諾", "/auth/invite", false, Forward, ""},
		{"未ログインで再設定", "/auth/reset-password", false, Forward, ""},
		{"ログイン済みでログイン画面", "/auth/login", true, Forward, ""},
		{"ログイン済みで非公開パス", "/library", true, Forward, ""},
		{"公開パスの前方一致は公開扱いしない", "/auth/login/extra", false, RedirectLanding, "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Decide(tt.path, tt.hasIdentity)
			if got.Action != tt.want {
				t.Errorf("Decide(%q, %v).Action = %v, want %v", tt.path, tt.hasIdentity, got.Action, tt.want)
			}
			if got.Location != tt.location {
				t.Errorf("Decide(%q, %v).Location = %q, want %q", tt.path, tt.hasIdentity, got.Location, tt.location)
			}
		})
	}
}

func TestPolicy_IsExcluded(t *testing.T) {
	p := DefaultPolicy()

	for _, path := range []string{"/static/app.js", "/static/css/site.css", "/favicon.ico", "/health", "/metrics"} {
		if !p.IsExcluded(path) {
			t.Errorf("IsExcluded(%q) = false, want true", path)
		}
	}
	for _, path := range []string{"/", "/dashboard", "/staticx", "/api/library"} {
		if p.IsExcluded(path) {
			t.Errorf("IsExcluded(%q) = true, want false", path)
		}
	}
}

func TestPolicy_IsPublic_GlobPattern(t *testing.T) {
	p := DefaultPolicy()
	p.PublicPaths = append(p.PublicPaths, "/share/*")

	if !p.IsPublic("/share/abc") {
		t.Error("/share/abc should match /share/*")
	}
	if p.IsPublic("/share/abc/def") {
		t.Error("/share/abc/def should not match single-level /share/*")
	}
}

func TestParsePolicy_MergesDefaults(t *testing.T) {
	p, err := ParsePolicy([]byte(`
home: /library
public_paths:
  - /auth/login
  - /about/**
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Landing != "/" {
		t.Errorf("Landing = %q, want default /", p.Landing)
	}
	if p.Home != "/library" {
		t.Errorf("Home = %q, want /library", p.Home)
	}
	if !p.IsPublic("/") {
		t.Error("landing page should always be public")
	}
	if !p.IsPublic("/about/team/tokyo") {
		t.Error("/about/** should match nested paths")
	}
	if p.IsPublic("/auth/signup") {
		t.Error("explicit public_paths should replace the defaults")
	}
	if !p.IsExcluded("/static/app.js") {
		t.Error("excluded should keep defaults when omitted")
	}
}

func TestParsePolicy_InvalidPattern(t *testing.T) {
	_, err := ParsePolicy([]byte("public_paths:\n  - \"/broken/[\"\n"))
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
	if !strings.Contains(err.Error(), "invalid pattern") {
		t.Errorf("error = %v", err)
	}
}

func TestParsePolicy_RelativePath(t *testing.T) {
	if _, err := ParsePolicy([]byte("excluded:\n  - static/**\n")); err == nil {
		t.Fatal("expected error for relative pattern")
	}
}

func TestParsePolicy_LandingEqualsHome(t *testing.T) {
	if _, err := ParsePolicy([]byte("landing: /home\nhome: /home\n")); err == nil {
		t.Fatal("expected error when landing equals home")
	}
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadPolicy_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	if err := os.WriteFile(path, []byte("home: /groups\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Home != "/groups" {
		t.Errorf("Home = %q", p.Home)
	}
}

func TestStore_Swap(t *testing.T) {
	s := NewStore(nil)
	if s.Load().Home != "/dashboard" {
		t.Fatalf("initial Home = %q", s.Load().Home)
	}

	next := DefaultPolicy()
	next.Home = "/library"
	prev := s.Swap(next)
	if prev.Home != "/dashboard" {
		t.Errorf("previous Home = %q", prev.Home)
	}
	if s.Load().Home != "/library" {
		t.Errorf("current Home = %q", s.Load().Home)
	}
}

func TestAction_String(t *testing.T) {
	if Forward.String() != "forward" || RedirectHome.String() != "home" || RedirectLanding.String() != "landing" {
		t.Error("unexpected action names")
	}
}
