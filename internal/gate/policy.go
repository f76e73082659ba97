// Package gate は認証済みルートと公開ルートを分けるアクセス方針を提供する。
package gate

import (
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Action はゲートの判定結果。
type Action int

const (
	// Forward はリクエストをそのまま通す。
	Forward Action = iota
	// RedirectHome はログイン済みユーザーをホーム（ダッシュボード）へ移動させる。
	RedirectHome
	// RedirectLanding は未ログインユーザーをランディングページへ移動させる。
	RedirectLanding
)

// String はメトリクスのラベルに使う名前を返す。
func (a Action) String() string {
	switch a {
	case RedirectHome:
		return "home"
	case RedirectLanding:
		return "landing"
	default:
		return "forward"
	}
}

// Decision はゲートの判定結果と遷移先を表す。
type Decision struct {
	Action   Action
	Location string
}

// Policy はゲートのアクセス方針。
type Policy struct {
	Landing     string   `yaml:"landing"`
	Home        string   `yaml:"home"`
	PublicPaths []string `yaml:"public_paths"`
	Excluded    []string `yaml:"excluded"`
}

// DefaultPolicy は既定のアクセス方針を返す。
func DefaultPolicy() *Policy {
	return &Policy{
		Landing: "/",
		Home:    "/dashboard",
		PublicPaths: []string{
			"/",
			"/auth/login",
			"/auth/signup",
			"/auth/auth-code-error",
			"/auth/callback",
			"/auth/forgot-password",
			"/auth/invite",
			"/auth/reset-password",
			"/auth/login/google",
			"/auth/signup/check-username",
		},
		Excluded: []string{
			"/static/**",
			"/favicon.ico",
			"/health",
			"/metrics",
		},
	}
}

// IsPublic はパスが未ログインでもアクセスできるかを判定する。
// グロブ記号を含むエントリはdoublestarのパターンとして照合する。
func (p *Policy) IsPublic(path string) bool {
	return matchAny(p.PublicPaths, path)
}

// IsExcluded はパスがゲートの対象外（静的ファイル等）かを判定する。
func (p *Policy) IsExcluded(path string) bool {
	return matchAny(p.Excluded, path)
}

// Decide はパスと認証状態から判定結果を返す。
func (p *Policy) Decide(path string, hasIdentity bool) Decision {
	if hasIdentity && path == p.Landing {
		return Decision{Action: RedirectHome, Location: p.Home}
	}
	if !hasIdentity && !p.IsPublic(path) {
		return Decision{Action: RedirectLanding, Location: p.Landing}
	}
	return Decision{Action: Forward}
}

// Validate はパターンとパスの妥当性を検証する。
func (p *Policy) Validate() error {
	if !strings.HasPrefix(p.Landing, "/") || !strings.HasPrefix(p.Home, "/") {
		return fmt.Errorf("landing and home must be absolute paths: %q, %q", p.Landing, p.Home)
	}
	if p.Landing == p.Home {
		return fmt.Errorf("landing and home must differ: %q", p.Landing)
	}
	for _, pattern := range append(append([]string{}, p.PublicPaths...), p.Excluded...) {
		if !strings.HasPrefix(pattern, "/") {
			return fmt.Errorf("pattern must start with '/': %q", pattern)
		}
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid pattern: %q", pattern)
		}
	}
	return nil
}

// LoadPolicy はYAMLファイルからアクセス方針を読み込む。
// 未指定の項目は既定値を使う。ランディングページは常に公開パスに含める。
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gate policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy はYAMLのバイト列からアクセス方針を生成する。
func ParsePolicy(data []byte) (*Policy, error) {
	var raw Policy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse gate policy: %w", err)
	}

	p := DefaultPolicy()
	if raw.Landing != "" {
		p.Landing = raw.Landing
	}
	if raw.Home != "" {
		p.Home = raw.Home
	}
	if raw.PublicPaths != nil {
		p.PublicPaths = raw.PublicPaths
	}
	if raw.Excluded != nil {
		p.Excluded = raw.Excluded
	}
	if !contains(p.PublicPaths, p.Landing) {
		p.PublicPaths = append(p.PublicPaths, p.Landing)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if !hasMeta(pattern) {
			if pattern == path {
				return true
			}
			continue
		}
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
