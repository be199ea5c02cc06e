package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxSessionBytes bounds the encoded form of one session.
const MaxSessionBytes = 1 << 20

var (
	ErrStateNotFound   = errors.New("session state not found")
	ErrInvalidSession  = errors.New("session id is empty")
	ErrSessionTooLarge = errors.New("session too large")
)

// Store persists sessions keyed by session id. Load returns ErrStateNotFound for
// unknown ids; Delete of an unknown id is not an error.
type Store interface {
	Load(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, sessionID string) error
}

func checkSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	return nil
}

// encodeSession validates sess, stamps UpdatedAt when unset and returns its JSON form.
// Sessions over MaxSessionBytes are refused so a stored value always stays loadable.
func encodeSession(sess *Session) ([]byte, error) {
	if sess == nil {
		return nil, ErrNilSession
	}
	if err := checkSessionID(sess.SessionID); err != nil {
		return nil, err
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now().UTC()
	} else {
		sess.UpdatedAt = sess.UpdatedAt.UTC()
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	if len(payload) > MaxSessionBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrSessionTooLarge, sess.SessionID, len(payload), MaxSessionBytes)
	}
	return payload, nil
}

func decodeSession(payload []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if err := sess.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session loaded from store: %w", err)
	}
	return &sess, nil
}
