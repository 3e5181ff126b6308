package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{BaseURL: srv.URL + "/api/"}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "://bad"} {
		if _, err := New(Config{BaseURL: raw}); err == nil {
			t.Fatalf("expected error for base url %q", raw)
		}
	}
}

func TestDoAttachesBearerAndDecodes(t *testing.T) {
	var gotAuth, gotPath, gotRequestID, gotContentType string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotRequestID = r.Header.Get("X-Request-ID")
		gotContentType = r.Header.Get("Content-Type")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": body["q"]})
	}, func(cfg *Config) {
		cfg.Credentials = func() Credential { return Credential{Token: "tok-1", Generation: 3} }
	})

	var out struct {
		Echo string `json:"echo"`
	}
	if err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/impact-logs", Body: map[string]string{"q": "hi"}}, &out); err != nil {
		t.Fatalf("do: %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotPath != "/api/impact-logs" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotRequestID == "" {
		t.Fatal("expected request id header")
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type %q", gotContentType)
	}
	if out.Echo != "hi" {
		t.Fatalf("unexpected body %+v", out)
	}
}

func TestDoOmitsBearerWithoutToken(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}, func(cfg *Config) {
		cfg.Credentials = func() Credential { return Credential{} }
	})
	if err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "public/stats"}, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("expected no auth header, got %q", gotAuth)
	}
}

func TestDoStatusErrorDetail(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"detail":"Account already exists"}`, "Account already exists"},
		{`{"detail":[{"loc":["body","email"],"msg":"field required"},{"msg":"too short"}]}`, "field required; too short"},
		{`plain text failure`, "plain text failure"},
		{``, ""},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(tc.body))
		}, nil)
		err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/auth/signup"}, nil)
		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("expected status error, got %v", err)
		}
		if statusErr.StatusCode != http.StatusBadRequest || statusErr.Detail != tc.want {
			t.Fatalf("body %q: got %d %q", tc.body, statusErr.StatusCode, statusErr.Detail)
		}
		if StatusCode(err) != http.StatusBadRequest {
			t.Fatalf("StatusCode helper mismatch")
		}
	}
}

func TestDoUnauthorizedHookCarriesGeneration(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []Unauthorized
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Invalid token"}`))
	}, func(cfg *Config) {
		cfg.Credentials = func() Credential { return Credential{Token: "stale", Generation: 7} }
		cfg.OnUnauthorized = func(_ context.Context, u Unauthorized) {
			mu.Lock()
			calls = append(calls, u)
			mu.Unlock()
		}
	})

	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/impact-logs/my-logs"}, nil)
	if StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected one hook call, got %d", len(calls))
	}
	if calls[0].Generation != 7 || !calls[0].HadToken || calls[0].Path != "/impact-logs/my-logs" {
		t.Fatalf("unexpected hook payload %+v", calls[0])
	}
}

func TestDoExchangeSkipsUnauthorizedHook(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Invalid email or password"}`))
	}, func(cfg *Config) {
		cfg.OnUnauthorized = func(context.Context, Unauthorized) { called = true }
	})

	err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/auth/login", Exchange: true}, nil)
	if StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if called {
		t.Fatal("exchange request must not trigger the unauthorized hook")
	}
}

func TestDoForbiddenSkipsUnauthorizedHook(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}, func(cfg *Config) {
		cfg.OnUnauthorized = func(context.Context, Unauthorized) { called = true }
	})
	_ = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/impact-logs/all"}, nil)
	if called {
		t.Fatal("403 must not trigger the unauthorized hook")
	}
}

func TestDoNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: base})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/auth/me"}, nil)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected network error, got %v", err)
	}
	if StatusCode(err) != 0 {
		t.Fatal("network errors carry no status")
	}
}

func TestDoTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(cfg *Config) {
		cfg.Timeout = 30 * time.Millisecond
	})
	defer close(release)

	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/auth/me"}, nil)
	var netErr *NetworkError
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected timeout network error, got %v", err)
	}
}

func TestDoMalformedAndOversizedBodies(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":`))
	}, nil)
	var out map[string]any
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/auth/me"}, &out)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`"` + strings.Repeat("x", 64) + `"`))
	}, func(cfg *Config) {
		cfg.MaxResponseBytes = 16
	})
	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/public/impact-logs"}, &out)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("expected response too large, got %v", err)
	}
}

func TestDoObserve(t *testing.T) {
	var seen []Observation
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, func(cfg *Config) {
		cfg.Observe = func(o Observation) { seen = append(seen, o) }
	})
	_ = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/public/stats"}, nil)
	if len(seen) != 1 || seen[0].StatusCode != http.StatusInternalServerError || seen[0].Err == nil {
		t.Fatalf("unexpected observations %+v", seen)
	}
}

func TestDoEncodesQuery(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}, nil)
	req := Request{Method: http.MethodGet, Path: "/public/impact-logs", Query: map[string][]string{"limit": {"10"}}}
	if err := c.Do(context.Background(), req, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if gotQuery != "limit=10" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}
