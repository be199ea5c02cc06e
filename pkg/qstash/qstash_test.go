package qstash

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	currentKey = "sig_current"
	nextKey    = "sig_next"
	deliverURL = "https://relay.example.com/api/incoming-sms"
)

func sign(t *testing.T, key string, body []byte, mutate func(*claims)) string {
	t.Helper()

	sum := sha256.Sum256(body)
	now := time.Now()
	c := &claims{
		Body: base64.URLEncoding.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   deliverURL,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
	if mutate != nil {
		mutate(c)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{
		CurrentSigningKey: currentKey,
		NextSigningKey:    nextKey,
		URL:               deliverURL,
	})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	return v
}

func TestVerify(t *testing.T) {
	t.Parallel()

	body := []byte(`{"sender":"+15550100@sms.example.com","message":"hi"}`)
	v := newTestVerifier(t)

	cases := []struct {
		name    string
		sig     string
		body    []byte
		wantErr error
	}{
		{name: "current key", sig: sign(t, currentKey, body, nil), body: body},
		{name: "next key", sig: sign(t, nextKey, body, nil), body: body},
		{name: "missing", sig: "", body: body, wantErr: ErrMissingSignature},
		{name: "unknown key", sig: sign(t, "other", body, nil), body: body, wantErr: ErrInvalidSignature},
		{name: "tampered body", sig: sign(t, currentKey, body, nil), body: []byte(`{}`), wantErr: ErrInvalidSignature},
		{
			name:    "expired",
			sig:     sign(t, currentKey, body, func(c *claims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour)) }),
			body:    body,
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "wrong issuer",
			sig:     sign(t, currentKey, body, func(c *claims) { c.Issuer = "someone" }),
			body:    body,
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "wrong subject",
			sig:     sign(t, currentKey, body, func(c *claims) { c.Subject = "https://evil.example.com" }),
			body:    body,
			wantErr: ErrInvalidSignature,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := v.Verify(tc.sig, tc.body, "")
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Verify() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNewVerifierRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := NewVerifier(Config{CurrentSigningKey: "  "}); err == nil {
		t.Fatal("expected error without signing keys")
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)
	body := `{"sender":"a@b.c","message":"hi"}`

	var seen string
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen = string(raw)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/incoming-sms", strings.NewReader(body))
	req.Header.Set(SignatureHeader, sign(t, currentKey, []byte(body), nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if seen != body {
		t.Fatalf("body must be restored, got %q", seen)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/incoming-sms", strings.NewReader(body))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
