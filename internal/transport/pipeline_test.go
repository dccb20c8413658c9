package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"forum-client/internal/apierr"
	"forum-client/internal/credentials"
	"forum-client/internal/envelope"
)

const (
	testKey = "TT0f3nXw0pR75WjaH+EPlgO5zNsJQXPfnrNyE22WmU0="
	testIV  = "8okrJwKt63217HK/B9RGkg=="
)

// fakeBackend is a minimal forum backend: it decrypts request envelopes,
// enforces the bearer token, and serves a refresh endpoint whose behavior
// each test controls.
type fakeBackend struct {
	t     *testing.T
	codec *envelope.Codec

	mu           sync.Mutex
	validAccess  string
	validRefresh string
	refreshOK    bool

	refreshCalls atomic.Int64
	got401       chan struct{}
	// holdRefreshFor makes the refresh handler wait for this many 401s
	// before responding, so concurrent waiters pile up deterministically.
	holdRefreshFor int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	codec, err := envelope.NewCodec(testKey, testIV)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return &fakeBackend{
		t:            t,
		codec:        codec,
		validAccess:  "good-access",
		validRefresh: "good-refresh",
		refreshOK:    true,
		got401:       make(chan struct{}, 64),
	}
}

func (b *fakeBackend) openRequest(r *http.Request, out any) error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	var env envelope.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	plain, err := b.codec.Open(env)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(plain), out)
}

func (b *fakeBackend) writeSealed(w http.ResponseWriter, status int, body any) {
	plain, _ := json.Marshal(body)
	env, err := b.codec.Seal(string(plain))
	if err != nil {
		b.t.Errorf("Seal: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			b.t.Errorf("login must not carry a bearer header")
		}
		b.writeSealed(w, 200, map[string]string{
			"accessToken":  b.validAccess,
			"refreshToken": b.validRefresh,
		})
	})

	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		for i := 0; i < b.holdRefreshFor; i++ {
			select {
			case <-b.got401:
			case <-time.After(2 * time.Second):
				b.t.Errorf("timed out waiting for concurrent 401s")
			}
		}
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := b.openRequest(r, &req); err != nil {
			b.t.Errorf("refresh body: %v", err)
		}
		b.mu.Lock()
		ok := b.refreshOK && req.RefreshToken == b.validRefresh
		if ok {
			b.validAccess = "refreshed-access"
			b.validRefresh = "refreshed-refresh"
		}
		access, refresh := b.validAccess, b.validRefresh
		b.mu.Unlock()
		if !ok {
			b.writeSealed(w, 401, map[string]string{"message": "invalid refresh token"})
			return
		}
		b.writeSealed(w, 200, map[string]string{"accessToken": access, "refreshToken": refresh})
	})

	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		valid := "Bearer " + b.validAccess
		b.mu.Unlock()
		if r.Header.Get("Authorization") != valid {
			select {
			case b.got401 <- struct{}{}:
			default:
			}
			b.writeSealed(w, 401, map[string]string{"message": "unauthorized"})
			return
		}
		var body map[string]any
		if err := b.openRequest(r, &body); err != nil {
			// A double-sealed retry would land here: the inner body would
			// decode to an envelope, not the logical payload.
			b.writeSealed(w, 400, map[string]string{"message": "unreadable body"})
			return
		}
		b.writeSealed(w, 200, map[string]any{"echo": body})
	})

	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	mux.HandleFunc("/corrupt", func(w http.ResponseWriter, r *http.Request) {
		env, _ := b.codec.Seal(`{"fine":"body"}`)
		env.Tag = "AAAAAAAAAAAAAAAAAAAAAA=="
		_ = json.NewEncoder(w).Encode(env)
	})

	return mux
}

func newTestPipeline(t *testing.T, b *fakeBackend, srv *httptest.Server, cred credentials.Credential) (*Pipeline, credentials.Store) {
	t.Helper()
	store := credentials.NewMemoryStore()
	if cred != (credentials.Credential{}) {
		if err := store.Save(cred); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	p := New(Options{
		BaseURL:     srv.URL,
		Codec:       b.codec,
		Credentials: store,
	})
	return p, store
}

func TestPostRoundTrip(t *testing.T) {
	b := newFakeBackend(t)
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	p, _ := newTestPipeline(t, b, srv, credentials.Credential{AccessToken: "good-access", RefreshToken: "good-refresh"})

	var out struct {
		Echo map[string]any `json:"echo"`
	}
	if err := p.Post(context.Background(), "/echo", map[string]string{"content": "hi"}, &out); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if out.Echo["content"] != "hi" {
		t.Fatalf("unexpected echo %+v", out.Echo)
	}
}

func TestSingleFlightRefresh(t *testing.T) {
	const n = 5

	b := newFakeBackend(t)
	b.holdRefreshFor = n
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	p, store := newTestPipeline(t, b, srv, credentials.Credential{AccessToken: "stale", RefreshToken: "good-refresh"})

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out struct {
				Echo map[string]any `json:"echo"`
			}
			errs[i] = p.Post(context.Background(), "/echo", map[string]int{"n": i}, &out)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
	if calls := b.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", calls)
	}
	cred, ok := store.Credential()
	if !ok || cred.AccessToken != "refreshed-access" {
		t.Fatalf("store should hold the refreshed credential, got %+v", cred)
	}
}

func TestRetryDoesNotDoubleEncrypt(t *testing.T) {
	b := newFakeBackend(t)
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	p, _ := newTestPipeline(t, b, srv, credentials.Credential{AccessToken: "stale", RefreshToken: "good-refresh"})

	var out struct {
		Echo map[string]any `json:"echo"`
	}
	if err := p.Post(context.Background(), "/echo", map[string]string{"content": "once"}, &out); err != nil {
		t.Fatalf("Post: %v", err)
	}
	// The replayed wire body decrypted to the same logical payload on the
	// server; a double-sealed retry would have come back as a 400.
	if out.Echo["content"] != "once" {
		t.Fatalf("retry body did not survive: %+v", out.Echo)
	}
	if calls := b.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected 1 refresh call, got %d", calls)
	}
}

func TestRefreshFailureCascadesToLogout(t *testing.T) {
	b := newFakeBackend(t)
	b.refreshOK = false
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	p, store := newTestPipeline(t, b, srv, credentials.Credential{AccessToken: "stale", RefreshToken: "good-refresh"})

	err := p.Post(context.Background(), "/echo", map[string]string{"content": "hi"}, nil)
	if !apierr.IsAuthExpired(err) {
		t.Fatalf("expected AUTH_EXPIRED, got %v", err)
	}
	if _, ok := store.Credential(); ok {
		t.Fatalf("credentials should be cleared after failed refresh")
	}

	// A follow-up request must fail the same way without another refresh
	// exchange: there is no credential left to exchange.
	err = p.Post(context.Background(), "/echo", map[string]string{"content": "hi"}, nil)
	if !apierr.IsAuthExpired(err) {
		t.Fatalf("expected AUTH_EXPIRED, got %v", err)
	}
	if calls := b.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected no second refresh call, got %d", calls)
	}
}

func TestLoginSkipsRecovery(t *testing.T) {
	b := newFakeBackend(t)
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	p, _ := newTestPipeline(t, b, srv, credentials.Credential{})

	var out struct {
		AccessToken string `json:"accessToken"`
	}
	if err := p.Post(context.Background(), "/auth/login", map[string]string{"email": "a@b.c", "password": "pw"}, &out); err != nil {
		t.Fatalf("login: %v", err)
	}
	if out.AccessToken != "good-access" {
		t.Fatalf("unexpected login response %+v", out)
	}
	if calls := b.refreshCalls.Load(); calls != 0 {
		t.Fatalf("login must never trigger refresh, got %d calls", calls)
	}
}

func TestPlainResponsePassthrough(t *testing.T) {
	b := newFakeBackend(t)
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	p, _ := newTestPipeline(t, b, srv, credentials.Credential{AccessToken: "good-access", RefreshToken: "good-refresh"})

	var out struct {
		OK bool `json:"ok"`
	}
	if err := p.Post(context.Background(), "/plain", nil, &out); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if !out.OK {
		t.Fatalf("plain body should pass through undecrypted")
	}
}

func TestCorruptEnvelopeIsTypedFailure(t *testing.T) {
	b := newFakeBackend(t)
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	p, _ := newTestPipeline(t, b, srv, credentials.Credential{AccessToken: "good-access", RefreshToken: "good-refresh"})

	var out map[string]any
	err := p.Post(context.Background(), "/corrupt", nil, &out)
	if apierr.CodeOf(err) != apierr.CodeDecryptFailed {
		t.Fatalf("expected DECRYPT_FAILED, got %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("a failed decryption must not look like a valid empty body")
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	b := newFakeBackend(t)
	srv := httptest.NewServer(b.handler())
	srv.Close() // nothing listening

	p, _ := newTestPipeline(t, b, srv, credentials.Credential{AccessToken: "good-access", RefreshToken: "good-refresh"})

	err := p.Post(context.Background(), "/echo", map[string]string{"content": "hi"}, nil)
	if !apierr.IsTransient(err) {
		t.Fatalf("expected TRANSIENT_NETWORK, got %v", err)
	}
}
