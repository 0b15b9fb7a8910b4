package addonstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// Operation labels for metrics and errors
const (
	OpListListings  = "list_listings"
	OpGetListing    = "get_listing"
	OpGetRatings    = "get_ratings"
	OpSubmitRating  = "submit_rating"
	OpDownload      = "download"
	requestIDHeader = "X-Request-ID"
)

// Config configures the store client
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	RateLimit       float64 // requests per second, 0 for unlimited
	MaxRetries      int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	MaxDownloadSize int64
	UserAgent       string
	ListingsTTL     time.Duration
}

// DefaultConfig returns production defaults for baseURL
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		Timeout:         30 * time.Second,
		RateLimit:       10,
		MaxRetries:      3,
		RetryWaitMin:    500 * time.Millisecond,
		RetryWaitMax:    10 * time.Second,
		MaxDownloadSize: 32 << 20,
		UserAgent:       "addonhost-store/1.0",
		ListingsTTL:     time.Minute,
	}
}

// Observer receives per-request outcomes
type Observer interface {
	StoreRequest(op string, status string, took time.Duration)
}

// Client talks to the remote add-on catalog
type Client struct {
	cfg       Config
	resty     *resty.Client
	limiter   *rate.Limiter
	breaker   *resilience.Breaker
	group     singleflight.Group
	sanitizer *bluemonday.Policy
	observer  Observer
	logger    *zap.Logger

	cache listingsCache
}

// New creates a store client
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("store base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxDownloadSize <= 0 {
		cfg.MaxDownloadSize = 32 << 20
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = nil

	restyClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetTransport(retryClient.HTTPClient.Transport).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	if cfg.MaxRetries > 0 {
		restyClient.
			SetRetryCount(cfg.MaxRetries).
			SetRetryWaitTime(cfg.RetryWaitMin).
			SetRetryMaxWaitTime(cfg.RetryWaitMax).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= http.StatusInternalServerError || r.StatusCode() == http.StatusTooManyRequests
			})
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	c := &Client{
		cfg:       cfg,
		resty:     restyClient,
		limiter:   limiter,
		sanitizer: bluemonday.UGCPolicy(),
		observer:  nopObserver{},
		logger:    logger,
	}
	c.breaker = resilience.New("addon-store", resilience.Settings{
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.6)
		},
		// client-side errors say nothing about store health
		IsSuccessful: func(err error) bool {
			var se *statusError
			return errors.As(err, &se) && se.code < http.StatusInternalServerError
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Store circuit breaker changed state",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})
	return c, nil
}

// SetObserver installs a request observer
func (c *Client) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	c.observer = o
}

// BreakerState exposes the circuit state for health reporting
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// statusError carries a non-2xx response
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// do sends one request through the limiter and breaker and maps failures
// onto the store error taxonomy
func (c *Client) do(ctx context.Context, op string, build func(r *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	start := time.Now()
	reqID := uuid.NewString()

	resp, err := resilience.Do(ctx, c.breaker, func(ctx context.Context) (*resty.Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		r := c.resty.R().SetContext(ctx).SetHeader(requestIDHeader, reqID)
		resp, err := build(r)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			body := resp.String()
			if len(body) > 256 {
				body = body[:256]
			}
			return resp, &statusError{code: resp.StatusCode(), body: body}
		}
		return resp, nil
	})

	status := "ok"
	if err != nil {
		err = c.mapError(op, err)
		status = errorStatus(err)
		c.logger.Debug("Store request failed",
			zap.String("op", op),
			zap.String("request_id", reqID),
			zap.Error(err))
	}
	c.observer.StoreRequest(op, status, time.Since(start))
	return resp, err
}

func (c *Client) mapError(op string, err error) error {
	var se *statusError
	switch {
	case errors.As(err, &se) && se.code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", types.ErrListingNotFound, op)
	case errors.As(err, &se) && se.code < http.StatusInternalServerError && se.code != http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: %w", types.ErrStoreRejected, op, err)
	case errors.As(err, &se):
		return &types.StoreUnavailableError{Op: op, StatusCode: se.code, Err: err}
	default:
		// transport failures, an open breaker and cancelled rate-limit waits
		return &types.StoreUnavailableError{Op: op, Err: err}
	}
}

func errorStatus(err error) string {
	var unavailable *types.StoreUnavailableError
	switch {
	case errors.Is(err, types.ErrListingNotFound):
		return "not_found"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.As(err, &unavailable):
		return "unavailable"
	default:
		return "rejected"
	}
}

type nopObserver struct{}

func (nopObserver) StoreRequest(string, string, time.Duration) {}
