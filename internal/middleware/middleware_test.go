package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/stemsi/exstem-quiz/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrCode {
	t.Helper()
	var body response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v (%s)", err, w.Body.String())
	}
	if body.Error == nil {
		return ""
	}
	return body.Error.Code
}

// ─── Rate limiting ──────────────────────────────────────────────────

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(2)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.Use(rl.Middleware())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := do("10.0.0.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, w.Code)
		}
	}
	w := do("10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", w.Code)
	}
	if code := errorCode(t, w); code != response.ErrRateLimitExceeded {
		t.Errorf("code = %s, want RATE_LIMIT_EXCEEDED", code)
	}

	if w := do("10.0.0.2"); w.Code != http.StatusOK {
		t.Errorf("other ip status = %d, want 200", w.Code)
	}

	now = now.Add(30 * time.Second)
	if w := do("10.0.0.1"); w.Code != http.StatusOK {
		t.Errorf("after refill status = %d, want 200", w.Code)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.allow("a")
	now = now.Add(2 * time.Minute)
	rl.allow("b")
	now = now.Add(2 * time.Minute)
	rl.Cleanup()

	if _, ok := rl.visitors["a"]; ok {
		t.Error("idle visitor kept")
	}
	if _, ok := rl.visitors["b"]; !ok {
		t.Error("recent visitor dropped")
	}
}

// ─── Identity ───────────────────────────────────────────────────────

type stubValidator struct {
	claims *service.Claims
	err    error
	got    string
}

func (s *stubValidator) ValidateToken(token string) (*service.Claims, error) {
	s.got = token
	if s.err != nil {
		return nil, s.err
	}
	return s.claims, nil
}

func identityRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.GET("/x", mw, func(c *gin.Context) {
		id, _ := service.IdentityFromContext(c.Request.Context())
		if claims := GetClaims(c); claims != nil && claims.UserID != id {
			c.String(http.StatusInternalServerError, "context mismatch")
			return
		}
		c.String(http.StatusOK, id)
	})
	return r
}

func TestRequireIdentity(t *testing.T) {
	ok := &service.Claims{TokenType: service.TokenTypeAnonymous, UserID: "u1"}

	tests := []struct {
		name      string
		validator *stubValidator
		header    string
		query     string
		wantCode  int
		wantErr   response.ErrCode
		wantBody  string
		wantToken string
	}{
		{"missing token", &stubValidator{claims: ok}, "", "", http.StatusUnauthorized, response.ErrTokenRequired, "", ""},
		{"bearer header", &stubValidator{claims: ok}, "Bearer abc", "", http.StatusOK, "", "u1", "abc"},
		{"query token", &stubValidator{claims: ok}, "", "qt", http.StatusOK, "", "u1", "qt"},
		{"invalid token", &stubValidator{err: errors.New("bad")}, "Bearer abc", "", http.StatusUnauthorized, response.ErrTokenInvalid, "", "abc"},
		{"identity disabled", &stubValidator{err: service.ErrIdentityUnavailable}, "Bearer abc", "", http.StatusServiceUnavailable, response.ErrIdentityUnavailable, "", "abc"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			target := "/x"
			if tc.query != "" {
				target += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			identityRouter(RequireIdentity(tc.validator)).ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.wantCode, w.Body.String())
			}
			if tc.wantErr != "" {
				if code := errorCode(t, w); code != tc.wantErr {
					t.Errorf("code = %s, want %s", code, tc.wantErr)
				}
			} else if w.Body.String() != tc.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tc.wantBody)
			}
			if tc.validator.got != tc.wantToken {
				t.Errorf("validated token = %q, want %q", tc.validator.got, tc.wantToken)
			}
		})
	}
}

func TestOptionalIdentity(t *testing.T) {
	v := &stubValidator{claims: &service.Claims{UserID: "u1"}}
	r := identityRouter(OptionalIdentity(v))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK || w.Body.String() != "" {
		t.Errorf("anonymous request = %d %q, want 200 empty", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "bearer tok")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "u1" {
		t.Errorf("token request = %d %q, want 200 u1", w.Code, w.Body.String())
	}

	v.err = errors.New("bad")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", w.Code)
	}
}

// ─── Compression ────────────────────────────────────────────────────

func brotliRouter(body string) *gin.Engine {
	r := gin.New()
	r.Use(Brotli())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, body) })
	r.GET("/metrics", func(c *gin.Context) { c.String(http.StatusOK, body) })
	return r
}

func TestBrotliCompressesLargeBodies(t *testing.T) {
	body := strings.Repeat("exam ", 1000)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	w := httptest.NewRecorder()
	brotliRouter(body).ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "br" {
		t.Fatalf("Content-Encoding = %q, want br", w.Header().Get("Content-Encoding"))
	}
	if w.Body.Len() >= len(body) {
		t.Errorf("compressed size %d not smaller than %d", w.Body.Len(), len(body))
	}
	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != body {
		t.Error("decompressed body differs")
	}
}

func TestBrotliPassesThrough(t *testing.T) {
	large := strings.Repeat("exam ", 1000)

	tests := []struct {
		name   string
		path   string
		body   string
		accept string
	}{
		{"small body", "/x", "ok", "br"},
		{"no accept", "/x", large, "gzip"},
		{"metrics", "/metrics", large, "br"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			req.Header.Set("Accept-Encoding", tc.accept)
			w := httptest.NewRecorder()
			brotliRouter(tc.body).ServeHTTP(w, req)

			if enc := w.Header().Get("Content-Encoding"); enc != "" {
				t.Errorf("Content-Encoding = %q, want none", enc)
			}
			if w.Body.String() != tc.body {
				t.Errorf("body length = %d, want %d", w.Body.Len(), len(tc.body))
			}
		})
	}
}

func TestCacheControl(t *testing.T) {
	r := gin.New()
	r.GET("/x", CacheControl(time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if got := w.Header().Get("Cache-Control"); got != "public, max-age=60" {
		t.Errorf("Cache-Control = %q", got)
	}
}
