package qstash

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const (
	SignatureHeader = "Upstash-Signature"
	issuer          = "Upstash"
	maxBodyBytes    = 1 << 20
)

var (
	ErrMissingSignature = errors.New("qstash: missing signature")
	ErrInvalidSignature = errors.New("qstash: invalid signature")
)

type Config struct {
	Enabled           bool          `default:"false"`
	CurrentSigningKey string        `split_words:"true"`
	NextSigningKey    string        `split_words:"true"`
	URL               string        `envconfig:"URL"` // public URL QStash delivers to; checked against the token subject when set
	ClockTolerance    time.Duration `split_words:"true" default:"5s"`
}

// Verifier checks Upstash-Signature JWTs on messages delivered by QStash. Either
// signing key is accepted so keys can be rotated without downtime.
type Verifier struct {
	keys      [][]byte
	url       string
	tolerance time.Duration
}

type claims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

func NewVerifier(cfg Config) (*Verifier, error) {
	var keys [][]byte
	for _, k := range []string{cfg.CurrentSigningKey, cfg.NextSigningKey} {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("qstash signing key is required")
	}

	return &Verifier{
		keys:      keys,
		url:       strings.TrimSpace(cfg.URL),
		tolerance: cfg.ClockTolerance,
	}, nil
}

func MustNewVerifier(cfg Config) *Verifier {
	v, err := NewVerifier(cfg)
	if err != nil {
		panic(err)
	}
	return v
}

// Verify checks signature against body. url, when non-empty, must equal the token
// subject; an empty url falls back to the configured one.
func (v *Verifier) Verify(signature string, body []byte, url string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	if url == "" {
		url = v.url
	}

	var lastErr error
	for _, key := range v.keys {
		if err := v.verifyWithKey(key, signature, body, url); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

func (v *Verifier) verifyWithKey(key []byte, signature string, body []byte, url string) error {
	c := &claims{}
	token, err := jwt.ParseWithClaims(signature, c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithLeeway(v.tolerance),
	)
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid token")
	}

	if url != "" && c.Subject != url {
		return fmt.Errorf("invalid subject %q", c.Subject)
	}

	sum := sha256.Sum256(body)
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if strings.TrimRight(c.Body, "=") != want {
		return errors.New("body hash mismatch")
	}
	return nil
}

// Middleware rejects requests whose body does not match the Upstash-Signature header.
// The body is restored for the next handler.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		_ = r.Body.Close()
		if err != nil {
			http.Error(w, `{"detail":"Failed to read body"}`, http.StatusBadRequest)
			return
		}

		if err := v.Verify(r.Header.Get(SignatureHeader), body, ""); err != nil {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("qstash signature rejected")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Invalid signature"}`))
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}
