package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestMiddlewareChain_OuterStack は Recovery -> RequestID -> Logging -> SecurityHeaders -> CORS -> Metrics の
// 順に組んだときに各ミドルウェアの効果がレスポンスに反映されることを検証する。
func TestMiddlewareChain_OuterStack(t *testing.T) {
	collector := &mockCollector{}
	var buf bytes.Buffer

	chain := func(h http.Handler) http.Handler {
		h = NewMetricsMiddleware(collector)(h)
		h = NewCORSMiddleware("http://localhost:3000")(h)
		h = NewSecurityHeadersMiddleware()(h)
		h = NewLoggingMiddleware(newBufferLogger(&buf))(h)
		h = NewRequestIDMiddleware()(h)
		return NewRecoveryMiddleware()(h)
	}

	t.Run("通常のレスポンス", func(t *testing.T) {
		handler := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/signup", nil))

		if w.Code != http.StatusCreated {
			t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
		}
		for _, h := range []string{RequestIDHeader, "X-Content-Type-Options", "Access-Control-Allow-Origin"} {
			if w.Header().Get(h) == "" {
				t.Errorf("header %s should be set", h)
			}
		}
	})

	t.Run("panicはRecoveryで500になる", func(t *testing.T) {
		handler := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("unexpected")
		}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})

	t.Run("プリフライトは204", func(t *testing.T) {
		handler := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be called for preflight")
		}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/chat", nil))

		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
		}
	})

	if len(collector.statuses) != 1 || collector.statuses[0] != http.StatusCreated {
		t.Errorf("recorded statuses = %v, want [201]", collector.statuses)
	}
}

// TestSecurityHeadersMiddleware はセキュリティヘッダーが付与されることを検証する。
func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := NewSecurityHeadersMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}
