// Package security は外部フィード取得まわりの安全対策を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// 取得先URLの検証エラー。
var (
	ErrEmptyURL       = errors.New("empty URL")
	ErrSchemeDenied   = errors.New("scheme not allowed")
	ErrHostDenied     = errors.New("host not allowed")
	ErrPortNotAllowed = errors.New("port not allowed")
)

var defaultPorts = []int{80, 443}

// internalNetworks は発見フィードの取得先として許可しないアドレス帯。
var internalNetworks = mustParseCIDRs(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10", // キャリアグレードNAT
	"127.0.0.0/8",
	"169.254.0.0/16", // メタデータIPを含む
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", c, err))
		}
		out = append(out, n)
	}
	return out
}

// URLGuard は外部URLへの取得を内部ネットワークから切り離す。
// ValidateURL は接続前の静的チェックで、DNS解決後のアドレスは
// NewSafeClient が返すクライアント（safeurl）が接続時に検証する。
type URLGuard struct {
	ports []int
}

// NewURLGuard はURLGuardを生成する。portsが空の場合は80と443のみ許可する。
func NewURLGuard(ports ...int) *URLGuard {
	if len(ports) == 0 {
		ports = defaultPorts
	}
	return &URLGuard{ports: ports}
}

// NewSafeClient は内部アドレスへの接続を拒否するHTTPクライアントを返す。
// maxResponseSize は呼び出し側でio.LimitReaderに使う値で、ここでは参照しない。
func (g *URLGuard) NewSafeClient(timeout time.Duration, _ int64) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(g.ports...).
		Build()
	return safeurl.Client(cfg).Client
}

// ValidateURL はスキーム、ポート、ホストを検証する。
func (g *URLGuard) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return ErrEmptyURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: %q", ErrSchemeDenied, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrHostDenied)
	}
	if port := u.Port(); port != "" && !g.portAllowed(port) {
		return fmt.Errorf("%w: %s", ErrPortNotAllowed, port)
	}

	if ip := net.ParseIP(host); ip != nil {
		if IsInternalIP(ip) {
			return fmt.Errorf("%w: %s", ErrHostDenied, ip)
		}
		return nil
	}
	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("%w: %s", ErrHostDenied, host)
	}
	return nil
}

func (g *URLGuard) portAllowed(port string) bool {
	for _, p := range g.ports {
		if fmt.Sprint(p) == port {
			return true
		}
	}
	return false
}

// IsInternalIP はipが内部ネットワークのアドレスかを返す。
func IsInternalIP(ip net.IP) bool {
	for _, n := range internalNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
