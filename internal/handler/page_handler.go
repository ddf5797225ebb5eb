package handler

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/hitoshi/gdmcare/internal/middleware"
)

var placeholderPage = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>GDM Care</title></head>
<body>
<h1>GDM Care</h1>
<p>Page <code>{{.Path}}</code> is served by the frontend. Set FRONTEND_URL to proxy it.</p>
</body>
</html>
`))

// NewPageHandler はページリクエストのハンドラーを返す。
// frontendURLが設定されている場合はフロントエンドへリバースプロキシし、
// 空の場合はプレースホルダーページを返す。
func NewPageHandler(frontendURL string) (http.Handler, error) {
	if frontendURL == "" {
		return http.HandlerFunc(servePlaceholder), nil
	}

	target, err := url.Parse(frontendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid frontend URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid frontend URL: %q", frontendURL)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("frontend proxy failed",
				slog.String("path", r.URL.Path),
				slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
				slog.String("error", err.Error()),
			)
			middleware.WriteJSONError(w, http.StatusBadGateway, "Frontend is unavailable")
		},
	}, nil
}

func servePlaceholder(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	placeholderPage.Execute(w, struct{ Path string }{Path: r.URL.Path})
}
