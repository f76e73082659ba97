// Package proxy は /api/* を外部REST APIへ転送するリバースプロキシを提供する。
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/hitoshi/codex/internal/middleware"
	"github.com/hitoshi/codex/internal/model"
)

const upstreamTarget = "api_proxy"

// UpstreamObserver は上流サービス呼び出しの結果を記録する。
type UpstreamObserver interface {
	ObserveUpstream(target, outcome string, d time.Duration)
}

type startKey struct{}

// New は${baseURL}/api/... へ転送するハンドラを生成する。
// クライアントのCookieは転送せず、セッションのアクセストークンをBearerとして付与する。
func New(baseURL string, timeout time.Duration, observer UpstreamObserver) (http.Handler, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("api base url must be absolute")
	}

	observe := func(r *http.Request, outcome string) {
		if observer == nil {
			return
		}
		start, ok := r.Context().Value(startKey{}).(time.Time)
		if !ok {
			return
		}
		observer.ObserveUpstream(upstreamTarget, outcome, time.Since(start))
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = target.Host
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("X-CSRF-Token")
			if session, ok := middleware.SessionFromContext(pr.In.Context()); ok {
				pr.Out.Header.Set("Authorization", "Bearer "+session.AccessToken)
			}
			pr.SetXForwarded()
		},
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   16,
		},
		ModifyResponse: func(resp *http.Response) error {
			// 上流のCookieはこのドメインに設定させない
			resp.Header.Del("Set-Cookie")
			if resp.StatusCode >= 500 {
				observe(resp.Request, "error")
			} else {
				observe(resp.Request, "success")
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			observe(r, "unavailable")
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("api proxy request failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamUnavailableError("APIサーバー"))
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), startKey{}, time.Now())
		rp.ServeHTTP(w, r.WithContext(ctx))
	}), nil
}
