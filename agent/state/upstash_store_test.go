package state

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

// fakeUpstash implements the subset of the Upstash REST protocol the store uses.
type fakeUpstash struct {
	mu       sync.Mutex
	values   map[string]string
	commands [][]string
	failWith string
	status   int
}

func newFakeUpstash(t *testing.T) (*fakeUpstash, *httptest.Server) {
	t.Helper()

	f := &fakeUpstash{values: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}

		var cmd []string
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		f.commands = append(f.commands, cmd)

		if f.status != 0 {
			w.WriteHeader(f.status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": f.failWith})
			return
		}
		if f.failWith != "" {
			_ = json.NewEncoder(w).Encode(map[string]string{"error": f.failWith})
			return
		}

		var result any
		switch cmd[0] {
		case "PING":
			result = "PONG"
		case "SET":
			f.values[cmd[1]] = cmd[2]
			result = "OK"
		case "GET", "GETEX":
			if v, ok := f.values[cmd[1]]; ok {
				result = v
			}
		case "DEL":
			if _, ok := f.values[cmd[1]]; ok {
				delete(f.values, cmd[1])
				result = 1
			} else {
				result = 0
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeUpstash) lastCommand() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[len(f.commands)-1]
}

func newTestUpstashStore(t *testing.T, srv *httptest.Server, cfg UpstashConfig) *UpstashStore {
	t.Helper()

	cfg.URL = srv.URL
	if cfg.Token == "" {
		cfg.Token = "token"
	}
	store, err := NewUpstashStore(cfg, WithUpstashHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewUpstashStore() error = %v", err)
	}
	return store
}

func TestUpstashStoreRoundTrip(t *testing.T) {
	t.Parallel()

	fake, srv := newFakeUpstash(t)
	store := newTestUpstashStore(t, srv, UpstashConfig{TTL: time.Hour, SlidingTTL: true})
	ctx := context.Background()

	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	sess := NewSession("s1", now)
	sess.AppendUser("What classes are at Studio X tomorrow?", now)
	if err := sess.SetResult(&StructuredResult{Status: StatusInputRequired, Message: "Which time?"}, now); err != nil {
		t.Fatalf("SetResult() error = %v", err)
	}

	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got := fake.lastCommand(); got[0] != "SET" || got[1] != "studio:session:s1" || got[3] != "EX" || got[4] != "3600" {
		t.Fatalf("unexpected SET command: %v", got)
	}

	loaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := fake.lastCommand(); got[0] != "GETEX" || got[3] != "3600" {
		t.Fatalf("sliding ttl must refresh expiry on read, got %v", got)
	}
	if len(loaded.History) != 1 || loaded.History[0].Content != "What classes are at Studio X tomorrow?" {
		t.Fatalf("unexpected history: %#v", loaded.History)
	}
	if loaded.Result == nil || loaded.Result.Message != "Which time?" {
		t.Fatalf("unexpected result: %#v", loaded.Result)
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() after delete error = %v, want ErrStateNotFound", err)
	}
}

func TestUpstashStoreFixedTTLUsesGet(t *testing.T) {
	t.Parallel()

	fake, srv := newFakeUpstash(t)
	store := newTestUpstashStore(t, srv, UpstashConfig{TTL: 1500 * time.Millisecond, KeyPrefix: "test:"})
	ctx := context.Background()

	if err := store.Save(ctx, NewSession("s2", time.Now())); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got := fake.lastCommand(); got[1] != "test:s2" || got[4] != "2" {
		t.Fatalf("expiry must round up, got %v", got)
	}

	if _, err := store.Load(ctx, "s2"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := fake.lastCommand(); len(got) != 2 || got[0] != "GET" {
		t.Fatalf("unexpected read command: %v", got)
	}
}

func TestUpstashStoreNoTTL(t *testing.T) {
	t.Parallel()

	fake, srv := newFakeUpstash(t)
	store := newTestUpstashStore(t, srv, UpstashConfig{SlidingTTL: true})

	if err := store.Save(context.Background(), NewSession("s3", time.Now())); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got := fake.lastCommand(); len(got) != 3 {
		t.Fatalf("SET without ttl must not carry EX, got %v", got)
	}
}

func TestUpstashStoreRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	fake, srv := newFakeUpstash(t)
	store := newTestUpstashStore(t, srv, UpstashConfig{})
	ctx := context.Background()

	if _, err := store.Load(ctx, "  "); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("Load() error = %v, want ErrInvalidSession", err)
	}
	if err := store.Save(ctx, nil); !errors.Is(err, ErrNilSession) {
		t.Fatalf("Save(nil) error = %v, want ErrNilSession", err)
	}
	if err := store.Delete(ctx, ""); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("Delete() error = %v, want ErrInvalidSession", err)
	}
	if len(fake.commands) != 0 {
		t.Fatalf("no command may reach the server, got %v", fake.commands)
	}
}

func TestUpstashStoreErrors(t *testing.T) {
	t.Parallel()

	fake, srv := newFakeUpstash(t)
	store := newTestUpstashStore(t, srv, UpstashConfig{})
	ctx := context.Background()

	fake.mu.Lock()
	fake.failWith = "WRONGTYPE Operation against a key holding the wrong kind of value"
	fake.mu.Unlock()

	var upErr *UpstashError
	err := store.Delete(ctx, "s")
	if !errors.As(err, &upErr) || upErr.Command != "DEL" || upErr.StatusCode != 0 {
		t.Fatalf("Delete() error = %v, want UpstashError for DEL", err)
	}

	fake.mu.Lock()
	fake.status = http.StatusServiceUnavailable
	fake.failWith = "maintenance"
	fake.mu.Unlock()

	_, err = store.Load(ctx, "s")
	if !errors.As(err, &upErr) || upErr.StatusCode != http.StatusServiceUnavailable || upErr.Message != "maintenance" {
		t.Fatalf("Load() error = %v, want status 503 UpstashError", err)
	}
}

func TestUpstashStoreRefusesOversizedSession(t *testing.T) {
	t.Parallel()

	fake, srv := newFakeUpstash(t)
	store := newTestUpstashStore(t, srv, UpstashConfig{})

	now := time.Now()
	sess := NewSession("big", now)
	sess.AppendUser(strings.Repeat("x", MaxSessionBytes), now)

	if err := store.Save(context.Background(), sess); !errors.Is(err, ErrSessionTooLarge) {
		t.Fatalf("Save() error = %v, want ErrSessionTooLarge", err)
	}
	if len(fake.commands) != 0 {
		t.Fatalf("oversized session must not be written, got %d commands", len(fake.commands))
	}
}

func TestUpstashStoreReplyTooLarge(t *testing.T) {
	t.Parallel()

	_, srv := newFakeUpstash(t)
	store := newTestUpstashStore(t, srv, UpstashConfig{})
	store.replyLimit = 256
	ctx := context.Background()

	now := time.Now()
	sess := NewSession("s", now)
	sess.AppendUser(strings.Repeat("y", 512), now)
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := store.Load(ctx, "s"); !errors.Is(err, ErrUpstashReplyTooLarge) {
		t.Fatalf("Load() error = %v, want ErrUpstashReplyTooLarge", err)
	}
}

func TestUpstashStorePing(t *testing.T) {
	t.Parallel()

	_, srv := newFakeUpstash(t)
	if err := newTestUpstashStore(t, srv, UpstashConfig{}).Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	bad := newTestUpstashStore(t, srv, UpstashConfig{Token: "wrong"})
	var upErr *UpstashError
	if err := bad.Ping(context.Background()); !errors.As(err, &upErr) || upErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Ping() with bad token error = %v", err)
	}
}

func TestUpstashStoreCorruptPayload(t *testing.T) {
	t.Parallel()

	fake, srv := newFakeUpstash(t)
	store := newTestUpstashStore(t, srv, UpstashConfig{})

	fake.mu.Lock()
	fake.values["studio:session:s"] = `{"session_id":"s","result":{"status":"maybe","message":"x"}}`
	fake.mu.Unlock()

	if _, err := store.Load(context.Background(), "s"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("Load() error = %v, want ErrInvalidStatus", err)
	}
}

func TestNewUpstashStoreValidation(t *testing.T) {
	t.Parallel()

	cases := []UpstashConfig{
		{Token: "t"},
		{URL: "not a url", Token: "t"},
		{URL: "https://example.upstash.io"},
		{URL: "https://example.upstash.io", Token: "t", TTL: -time.Second},
	}
	for _, cfg := range cases {
		if _, err := NewUpstashStore(cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}

func TestExpirySeconds(t *testing.T) {
	t.Parallel()

	cases := map[time.Duration]string{
		time.Millisecond:        "1",
		time.Second:             "1",
		1500 * time.Millisecond: "2",
		24 * time.Hour:          "86400",
	}
	for ttl, want := range cases {
		if got := expirySeconds(ttl); got != want {
			t.Fatalf("expirySeconds(%v) = %q, want %q", ttl, got, want)
		}
	}
}
