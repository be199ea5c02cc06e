package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultUpstashKeyPrefix = "studio:session:"
	defaultUpstashTTL       = 24 * time.Hour
	// JSON string escaping can grow a value up to six times.
	maxUpstashReplyBytes = 6*MaxSessionBytes + 64<<10
)

var ErrUpstashReplyTooLarge = errors.New("upstash reply too large")

type UpstashConfig struct {
	URL       string        `envconfig:"URL" required:"true"`
	Token     string        `envconfig:"TOKEN" required:"true"`
	Timeout   time.Duration `split_words:"true" default:"10s"`
	KeyPrefix string        `split_words:"true" default:"studio:session:"`
	TTL       time.Duration `envconfig:"TTL" default:"24h"`
	// SlidingTTL pushes the expiry forward on every read, so only idle sessions expire.
	SlidingTTL bool `split_words:"true" default:"true"`
}

// UpstashError is a command rejected by Upstash, either by HTTP status or by an error
// field in the reply.
type UpstashError struct {
	Command    string
	StatusCode int
	Message    string
}

func (e *UpstashError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstash %s: status=%d %s", e.Command, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstash %s: %s", e.Command, e.Message)
}

type UpstashOption func(*UpstashStore)

func WithUpstashHTTPClient(client *http.Client) UpstashOption {
	return func(s *UpstashStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashStore keeps each session as one JSON string value in Upstash Redis, spoken
// to over its REST API.
type UpstashStore struct {
	endpoint   string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
	sliding    bool
	replyLimit int64
}

var _ Store = (*UpstashStore)(nil)

func NewUpstashStore(cfg UpstashConfig, opts ...UpstashOption) (*UpstashStore, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if endpoint == "" {
		return nil, errors.New("upstash url is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid upstash url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash token is required")
	}
	if cfg.TTL < 0 {
		return nil, errors.New("upstash ttl must be >= 0")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = defaultUpstashKeyPrefix
	}

	s := &UpstashStore{
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  prefix,
		ttl:        cfg.TTL,
		sliding:    cfg.SlidingTTL,
		replyLimit: maxUpstashReplyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *UpstashStore) key(sessionID string) (string, error) {
	if err := checkSessionID(sessionID); err != nil {
		return "", err
	}
	return s.keyPrefix + sessionID, nil
}

func (s *UpstashStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	key, err := s.key(sessionID)
	if err != nil {
		return nil, err
	}

	cmd := []string{"GET", key}
	if s.sliding && s.ttl > 0 {
		cmd = []string{"GETEX", key, "EX", expirySeconds(s.ttl)}
	}
	value, found, err := s.stringCommand(ctx, cmd...)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrStateNotFound
	}
	return decodeSession([]byte(value))
}

func (s *UpstashStore) Save(ctx context.Context, sess *Session) error {
	payload, err := encodeSession(sess)
	if err != nil {
		return err
	}
	key, err := s.key(sess.SessionID)
	if err != nil {
		return err
	}

	cmd := []string{"SET", key, string(payload)}
	if s.ttl > 0 {
		cmd = append(cmd, "EX", expirySeconds(s.ttl))
	}
	_, err = s.do(ctx, cmd)
	return err
}

func (s *UpstashStore) Delete(ctx context.Context, sessionID string) error {
	key, err := s.key(sessionID)
	if err != nil {
		return err
	}
	_, err = s.do(ctx, []string{"DEL", key})
	return err
}

// Ping checks credentials and reachability.
func (s *UpstashStore) Ping(ctx context.Context) error {
	value, _, err := s.stringCommand(ctx, "PING")
	if err != nil {
		return err
	}
	if value != "PONG" {
		return &UpstashError{Command: "PING", Message: "unexpected reply " + strconv.Quote(value)}
	}
	return nil
}

// stringCommand runs a command whose reply is a bulk string or nil.
func (s *UpstashStore) stringCommand(ctx context.Context, cmd ...string) (string, bool, error) {
	raw, err := s.do(ctx, cmd)
	if err != nil {
		return "", false, err
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false, &UpstashError{Command: cmd[0], Message: "reply is not a string"}
	}
	return value, true, nil
}

type upstashReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (s *UpstashStore) do(ctx context.Context, cmd []string) (json.RawMessage, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal upstash command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstash request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstash %s: %w", cmd[0], err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, s.replyLimit+1))
	if err != nil {
		return nil, fmt.Errorf("read upstash reply: %w", err)
	}
	if int64(len(raw)) > s.replyLimit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrUpstashReplyTooLarge, cmd[0], s.replyLimit)
	}

	var reply upstashReply
	decodeErr := json.Unmarshal(raw, &reply)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(reply.Error)
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, &UpstashError{Command: cmd[0], StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode upstash reply: %w", decodeErr)
	}
	if reply.Error != "" {
		return nil, &UpstashError{Command: cmd[0], Message: reply.Error}
	}
	return bytes.TrimSpace(reply.Result), nil
}

// expirySeconds rounds up so sub-second TTLs never become "no expiry".
func expirySeconds(ttl time.Duration) string {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
