// Package vendorapi implements the client for the vendor's mobility job API.
//
// One vendor job covers at most 200 geometries and 31 days. Submission is a
// single POST carrying the encoded geometries, date window, and schema; the
// job then runs on the vendor side for minutes to hours and is polled until
// terminal. A circuit breaker guards both calls so a struggling vendor API is
// not hammered by every worker at once, and an optional rate limiter paces
// requests across workers.
package vendorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/qolidata/mobsync/pkg/geo"
	"github.com/qolidata/mobsync/pkg/plan"
)

// Config configures the vendor API client.
type Config struct {
	// BaseURL is the vendor platform root, without the /v1 segment.
	BaseURL string

	// APIKey is sent as the X-API-Key header on every request.
	APIKey string

	// HTTPTimeout bounds a single submit or poll request.
	// Default: 60s.
	HTTPTimeout time.Duration

	// RateLimit is the maximum requests per second to the vendor API
	// across all workers. Zero means unlimited.
	RateLimit float64
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout: 60 * time.Second,
	}
}

// Client submits and polls vendor jobs. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// New creates a vendor API client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("vendor API base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("vendor API key is required")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultConfig().HTTPTimeout
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "vendor-api",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Only transient failures should trip the breaker; a 4xx
			// rejection or explicit job verdict is a healthy API.
			return err == nil || !IsTransient(err)
		},
	})

	return c, nil
}

// SubmitRequest describes one chunk's vendor job.
type SubmitRequest struct {
	Endpoint   string
	Schema     plan.SchemaType
	Window     plan.Window
	Geometries *geo.Geometries
}

type submitPayload struct {
	DateRange  dateRange               `json:"date_range"`
	SchemaType string                  `json:"schema_type"`
	GeoRadius  []geo.RadiusDescriptor  `json:"geo_radius,omitempty"`
	GeoJSON    []geo.PolygonDescriptor `json:"geo_json,omitempty"`
}

type dateRange struct {
	FromDate string `json:"from_date"`
	ToDate   string `json:"to_date"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
	Data      struct {
		JobID string `json:"job_id"`
	} `json:"data"`
}

type pollResponse struct {
	Data struct {
		Status     JobStatus       `json:"status"`
		S3Location *OutputLocation `json:"s3_location"`
	} `json:"data"`
	ErrorMessage string `json:"error_message"`
}

const dateLayout = "2006-01-02"

// Submit posts one job and returns it in SUBMITTED state.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if req.Geometries == nil || req.Geometries.Count() == 0 {
		return nil, errors.New("submit: no geometries")
	}
	if n := req.Geometries.Count(); n > plan.MaxAOIsPerJob {
		return nil, fmt.Errorf("submit: %d geometries exceeds vendor limit %d", n, plan.MaxAOIsPerJob)
	}
	if d := req.Window.Days(); d > plan.MaxDaysPerJob {
		return nil, fmt.Errorf("submit: %d-day window exceeds vendor limit %d", d, plan.MaxDaysPerJob)
	}

	payload := submitPayload{
		DateRange: dateRange{
			FromDate: req.Window.From.Format(dateLayout),
			ToDate:   req.Window.To.Format(dateLayout),
		},
		SchemaType: string(req.Schema),
		GeoRadius:  req.Geometries.Radius,
		GeoJSON:    req.Geometries.Polygon,
	}

	body, err := c.do(ctx, http.MethodPost, req.Endpoint, payload)
	if err != nil {
		return nil, err
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("submit: parse response: %w", err)
	}
	if resp.Data.JobID == "" {
		return nil, fmt.Errorf("submit: no job_id in response: %s", truncate(body, 200))
	}

	return &Job{ID: resp.Data.JobID, Status: StatusSubmitted}, nil
}

// Poll fetches the current status of a job. On SUCCESS the returned job
// carries the vendor output location. A FAILED or CANCELLED verdict is
// returned as an error so callers see one classification path.
func (c *Client) Poll(ctx context.Context, jobID string) (*Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, errors.New("poll: job id is required")
	}

	body, err := c.do(ctx, http.MethodGet, "job/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	var resp pollResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("poll %s: parse response: %w", jobID, err)
	}

	job := &Job{ID: jobID, Status: resp.Data.Status}
	switch resp.Data.Status {
	case StatusSuccess:
		if resp.Data.S3Location == nil || resp.Data.S3Location.FolderPath == "" {
			return nil, fmt.Errorf("poll %s: SUCCESS without output location", jobID)
		}
		job.Output = resp.Data.S3Location
		return job, nil
	case StatusFailed:
		return nil, &JobFailedError{JobID: jobID, Message: resp.ErrorMessage}
	case StatusCancelled:
		return nil, fmt.Errorf("poll %s: %w", jobID, ErrJobCancelled)
	case "":
		return nil, fmt.Errorf("poll %s: no status in response: %s", jobID, truncate(body, 200))
	default:
		return job, nil
	}
}

// do executes one API request through the rate limiter and circuit breaker
// and returns the response body.
func (c *Client) do(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doOnce(ctx, method, endpoint, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit breaker open: %v", ErrTransient, err)
	}
	return body, err
}

func (c *Client) doOnce(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/" + strings.TrimLeft(endpoint, "/")

	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransient, method, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", ErrTransient, method, endpoint, resp.StatusCode, truncate(body, 200))
	default:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(body, 500)}
	}
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
