package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"vssyl/internal/logging"
	"vssyl/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultContextFetchTimeout bounds a single live provider request
	DefaultContextFetchTimeout = 5 * time.Second

	maxContextPayloadBytes = 5 << 20
)

// ContextFetcherConfig wires a ContextFetcher. Registry and Cache are required.
type ContextFetcherConfig struct {
	Registry   RegistryStore
	Cache      ContextCache
	Recorder   *ModuleMetricsRecorder
	Metrics    *Metrics
	Limiter    *FetchRateLimiter
	HTTPClient *http.Client
	// BaseURL resolves provider endpoints declared as relative paths
	BaseURL string
	Timeout time.Duration
	// EndpointGuard vets absolute provider URLs declared by modules; relative
	// endpoints resolve against BaseURL and are not checked
	EndpointGuard func(rawURL string) error
	Logger        *logrus.Entry
	Now           func() time.Time
}

// ContextFetcher retrieves live JSON context from module-declared providers,
// serving repeat requests from a per-(module, user) cache
type ContextFetcher struct {
	registry RegistryStore
	cache    ContextCache
	recorder *ModuleMetricsRecorder
	metrics  *Metrics
	limiter  *FetchRateLimiter
	client   *http.Client
	baseURL  string
	timeout  time.Duration
	guard    func(rawURL string) error
	logger   *logrus.Entry
	tracer   trace.Tracer
	now      func() time.Time

	group singleflight.Group
}

// NewContextFetcher creates a fetcher from its config
func NewContextFetcher(cfg ContextFetcherConfig) *ContextFetcher {
	f := &ContextFetcher{
		registry: cfg.Registry,
		cache:    cfg.Cache,
		recorder: cfg.Recorder,
		metrics:  cfg.Metrics,
		limiter:  cfg.Limiter,
		client:   cfg.HTTPClient,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		timeout:  cfg.Timeout,
		guard:    cfg.EndpointGuard,
		logger:   cfg.Logger,
		tracer:   otel.Tracer("vssyl/services/context_fetcher"),
		now:      cfg.Now,
	}

	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.timeout <= 0 {
		f.timeout = DefaultContextFetchTimeout
	}
	if f.logger == nil {
		f.logger = logging.NewComponentLogger("context_fetcher")
	}
	if f.now == nil {
		f.now = time.Now
	}

	return f
}

// Fetch returns context for one (module, provider) pair on behalf of a user
func (f *ContextFetcher) Fetch(ctx context.Context, req models.FetchContextRequest) (*models.FetchResult, error) {
	entry, found, err := f.registry.GetEntry(ctx, req.ModuleID)
	if err != nil {
		return nil, registryUnavailable("load registry entry", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, req.ModuleID)
	}

	provider, ok := entry.Provider(req.ProviderName)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrProviderNotFound, req.ModuleID, req.ProviderName)
	}

	if result := f.fromCache(ctx, req, provider); result != nil {
		return result, nil
	}

	key := strings.Join([]string{req.ModuleID, req.UserID, provider.Name, encodeParameters(req.Parameters).Encode()}, "\x00")
	ch := f.group.DoChan(key, func() (interface{}, error) {
		// Shared by every waiter, so it must outlive any single caller
		return f.fetchLive(context.WithoutCancel(ctx), req, provider)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrFetchTimeout, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		result := *res.Val.(*models.FetchResult)
		return &result, nil
	}
}

// fromCache returns a fresh cached result, or nil on a miss
func (f *ContextFetcher) fromCache(ctx context.Context, req models.FetchContextRequest, provider models.ContextProvider) *models.FetchResult {
	cached, found, err := f.cache.Get(ctx, req.ModuleID, req.UserID)
	if err != nil {
		f.logger.WithFields(logrus.Fields{
			"module_id": req.ModuleID,
			"user_id":   req.UserID,
		}).WithError(err).Warn("context cache read failed, fetching live")
		f.metrics.RecordCacheLookup("miss")
		return nil
	}
	// One slot per (module, user): a value from another provider is a miss
	if !found || cached.Provider != provider.Name {
		f.metrics.RecordCacheLookup("miss")
		return nil
	}
	if !cached.FreshAt(f.now(), provider.TTL()) {
		f.metrics.RecordCacheLookup("stale")
		return nil
	}

	f.metrics.RecordCacheLookup("hit")
	return &models.FetchResult{
		ModuleID:  req.ModuleID,
		Provider:  provider.Name,
		Data:      cached.Data,
		Cached:    true,
		LatencyMs: 0,
		CachedAt:  cached.CachedAt,
	}
}

// fetchLive performs the HTTP request, caches the body and records metrics
func (f *ContextFetcher) fetchLive(ctx context.Context, req models.FetchContextRequest, provider models.ContextProvider) (*models.FetchResult, error) {
	ctx, span := f.tracer.Start(ctx, "ContextFetcher.fetchLive", trace.WithAttributes(
		attribute.String("module.id", req.ModuleID),
		attribute.String("context.provider", provider.Name),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	log := f.logger.WithFields(logrus.Fields{
		"module_id": req.ModuleID,
		"provider":  provider.Name,
		"user_id":   req.UserID,
	})

	target, err := f.providerURL(provider, req)
	if err != nil {
		return nil, f.fail(span, log, req, provider, "", 0, ErrFetchFailed, err)
	}
	log = log.WithField("url", target)

	started := time.Now()

	if err := f.limiter.Wait(ctx, req.ModuleID); err != nil {
		return nil, f.fail(span, log, req, provider, target, 0, ErrFetchTimeout, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, f.fail(span, log, req, provider, target, 0, ErrFetchFailed, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, f.fail(span, log, req, provider, target, 0, classifyFetchErr(ctx, err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, f.fail(span, log, req, provider, target, resp.StatusCode, ErrFetchFailed,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxContextPayloadBytes+1))
	if err != nil {
		return nil, f.fail(span, log, req, provider, target, 0, classifyFetchErr(ctx, err), err)
	}
	if len(body) > maxContextPayloadBytes {
		return nil, f.fail(span, log, req, provider, target, 0, ErrFetchFailed,
			fmt.Errorf("response exceeds %d bytes", maxContextPayloadBytes))
	}
	if !json.Valid(body) {
		return nil, f.fail(span, log, req, provider, target, 0, ErrFetchFailed, errors.New("response is not valid JSON"))
	}

	latency := time.Since(started)
	now := f.now()

	cached := &models.CachedContext{
		Data:     json.RawMessage(body),
		Provider: provider.Name,
		CachedAt: now,
	}
	if err := f.cache.Set(ctx, req.ModuleID, req.UserID, cached); err != nil {
		log.WithError(err).Warn("failed to cache module context")
	}

	f.recorder.RecordSuccess(req.ModuleID, now, latency, len(body))
	f.metrics.RecordFetch("success", latency.Seconds())

	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int("context.payload_bytes", len(body)),
	)
	log.WithFields(logrus.Fields{
		"latency_ms":    latency.Milliseconds(),
		"payload_bytes": len(body),
	}).Debug("fetched module context")

	return &models.FetchResult{
		ModuleID:  req.ModuleID,
		Provider:  provider.Name,
		Data:      cached.Data,
		Cached:    false,
		LatencyMs: latency.Milliseconds(),
		CachedAt:  now,
	}, nil
}

// fail records a failed live fetch and builds the error returned to callers
func (f *ContextFetcher) fail(span trace.Span, log *logrus.Entry, req models.FetchContextRequest,
	provider models.ContextProvider, target string, status int, kind, cause error) error {

	f.recorder.RecordFailure(req.ModuleID, f.now())

	result := "failure"
	if errors.Is(kind, ErrFetchTimeout) {
		result = "timeout"
	}
	f.metrics.RecordFetch(result, 0)

	fetchErr := &FetchError{
		ModuleID:   req.ModuleID,
		Provider:   provider.Name,
		URL:        target,
		StatusCode: status,
		Err:        fmt.Errorf("%w: %w", kind, cause),
	}

	span.RecordError(fetchErr)
	span.SetStatus(codes.Error, result)
	log.WithFields(logrus.Fields{
		"status": status,
		"result": result,
	}).WithError(cause).Warn("module context fetch failed")

	return fetchErr
}

// providerURL builds the request URL: endpoint with ":id" substituted, made
// absolute against the base URL, with userId and parameters in the query
func (f *ContextFetcher) providerURL(provider models.ContextProvider, req models.FetchContextRequest) (string, error) {
	endpoint := provider.ResolveEndpoint(req.ModuleID)
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if f.baseURL == "" {
			return "", fmt.Errorf("relative endpoint %q with no base URL", endpoint)
		}
		endpoint = f.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	} else if f.guard != nil {
		if err := f.guard(endpoint); err != nil {
			return "", fmt.Errorf("endpoint %q rejected: %w", endpoint, err)
		}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	query := u.Query()
	for key, values := range encodeParameters(req.Parameters) {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	query.Set("userId", req.UserID)
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// encodeParameters flattens caller parameters into query values. Scalars are
// formatted directly, lists repeat the key, anything else is sent as JSON.
func encodeParameters(params map[string]interface{}) url.Values {
	values := url.Values{}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if key == "userId" {
			continue
		}
		switch v := params[key].(type) {
		case []interface{}:
			for _, item := range v {
				values.Add(key, parameterValue(item))
			}
		case []string:
			for _, item := range v {
				values.Add(key, item)
			}
		default:
			values.Add(key, parameterValue(v))
		}
	}

	return values
}

func parameterValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool, int, int32, int64, float32, float64, json.Number:
		return fmt.Sprint(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

func classifyFetchErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrFetchTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrFetchTimeout
	}
	return ErrFetchFailed
}

// InvalidateModule drops every user's cached context for a module
func (f *ContextFetcher) InvalidateModule(ctx context.Context, moduleID string) error {
	return f.cache.InvalidateModule(ctx, moduleID)
}

// InvalidateUser drops every cached context held for a user
func (f *ContextFetcher) InvalidateUser(ctx context.Context, userID string) error {
	return f.cache.InvalidateUser(ctx, userID)
}

// Invalidate drops the cached context for one (module, user) pair
func (f *ContextFetcher) Invalidate(ctx context.Context, moduleID, userID string) error {
	return f.cache.Invalidate(ctx, moduleID, userID)
}
