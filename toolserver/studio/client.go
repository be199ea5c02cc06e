package studio

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

const maxResponseSizeBytes = 4 << 20

var ErrNotFound = errors.New("studio api: not found")

type Config struct {
	BaseURL string        `envconfig:"BASE_URL" split_words:"true" required:"true"`
	Token   string        `split_words:"true" required:"true"`
	Timeout time.Duration `split_words:"true" default:"20s"`
}

// APIError is a non-2xx answer from the studio API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("studio api status=%d body=%s", e.StatusCode, e.Body)
}

// Client is a thin REST client for the member studio API. Responses are returned as
// raw JSON so callers can pass them through untouched.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("studio base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("parse studio base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type ClassQuery struct {
	StartDate         string
	EndDate           string
	StudioUUIDs       []string
	IncludeHomeStudio *bool
}

func (c *Client) GetClasses(ctx context.Context, q ClassQuery) (json.RawMessage, error) {
	v := url.Values{}
	setIf(v, "start_date", q.StartDate)
	setIf(v, "end_date", q.EndDate)
	for _, id := range q.StudioUUIDs {
		v.Add("studio_uuids", id)
	}
	if q.IncludeHomeStudio != nil {
		v.Set("include_home_studio", strconv.FormatBool(*q.IncludeHomeStudio))
	}
	return c.do(ctx, http.MethodGet, "/classes", v, nil)
}

type BookingQuery struct {
	StartDate        string
	EndDate          string
	ExcludeCancelled bool
}

func (c *Client) GetBookings(ctx context.Context, q BookingQuery) (json.RawMessage, error) {
	v := url.Values{}
	setIf(v, "start_date", q.StartDate)
	setIf(v, "end_date", q.EndDate)
	v.Set("exclude_cancelled", strconv.FormatBool(q.ExcludeCancelled))
	return c.do(ctx, http.MethodGet, "/bookings", v, nil)
}

func (c *Client) GetBooking(ctx context.Context, bookingID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/bookings/"+url.PathEscape(bookingID), nil, nil)
}

func (c *Client) BookClass(ctx context.Context, classID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/bookings", nil, map[string]string{"class_id": classID})
}

func (c *Client) CancelBooking(ctx context.Context, bookingID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, "/bookings/"+url.PathEscape(bookingID), nil, nil)
}

// GetStudioDetail returns the home studio when studioUUID is empty.
func (c *Client) GetStudioDetail(ctx context.Context, studioUUID string) (json.RawMessage, error) {
	if strings.TrimSpace(studioUUID) == "" {
		return c.do(ctx, http.MethodGet, "/studios/home", nil, nil)
	}
	return c.do(ctx, http.MethodGet, "/studios/"+url.PathEscape(studioUUID), nil, nil)
}

func (c *Client) SearchStudios(ctx context.Context, latitude, longitude float64, distanceMiles int) (json.RawMessage, error) {
	v := url.Values{}
	v.Set("latitude", strconv.FormatFloat(latitude, 'f', -1, 64))
	v.Set("longitude", strconv.FormatFloat(longitude, 'f', -1, 64))
	v.Set("distance", strconv.Itoa(distanceMiles))
	return c.do(ctx, http.MethodGet, "/studios/search", v, nil)
}

func (c *Client) GetFavoriteStudios(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/studios/favorites", nil, nil)
}

// GetMemberStats returns lifetime stats; selectTime is e.g. "all_time" or "this_month".
func (c *Client) GetMemberStats(ctx context.Context, selectTime string, inStudio bool) (json.RawMessage, error) {
	v := url.Values{}
	setIf(v, "select_time", selectTime)
	path := "/member/stats/out-of-studio"
	if inStudio {
		path = "/member/stats/in-studio"
	}
	return c.do(ctx, http.MethodGet, path, v, nil)
}

func (c *Client) GetBookingFromClass(ctx context.Context, classID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/classes/"+url.PathEscape(classID)+"/booking", nil, nil)
}

// GetStudioServices lists the home studio's services when studioUUID is empty.
func (c *Client) GetStudioServices(ctx context.Context, studioUUID string) (json.RawMessage, error) {
	if strings.TrimSpace(studioUUID) == "" {
		return c.do(ctx, http.MethodGet, "/studios/home/services", nil, nil)
	}
	return c.do(ctx, http.MethodGet, "/studios/"+url.PathEscape(studioUUID)+"/services", nil, nil)
}

func (c *Client) GetMemberServices(ctx context.Context, activeOnly bool) (json.RawMessage, error) {
	v := url.Values{}
	v.Set("active_only", strconv.FormatBool(activeOnly))
	return c.do(ctx, http.MethodGet, "/member/services", v, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (json.RawMessage, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal studio request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build studio request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute studio request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read studio response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("decode studio response: invalid json")
	}
	return json.RawMessage(raw), nil
}

func setIf(v url.Values, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		v.Set(key, value)
	}
}
