package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"portfolio_tracker/internal/domain/entity"
	"portfolio_tracker/internal/pkg/utils"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpproxy"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultInnerAttempts  = 3
	innerBackoffStep      = 10 * time.Second
	innerBackoffJitter    = 5 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

// ProfileClient implements port.PageFetcher against the third-party profile
// service HTTP API. One Fetch call owns the inner retry tier: up to three
// attempts with (attempt+1)*10s + jitter backoff on transient failures.
type ProfileClient struct {
	baseURL       string
	timeout       time.Duration
	logger        *zap.Logger
	innerAttempts int
}

// NewProfileClient creates a new ProfileClient.
func NewProfileClient(baseURL string, timeout time.Duration, logger *zap.Logger, innerAttempts int) *ProfileClient {
	if innerAttempts <= 0 {
		innerAttempts = defaultInnerAttempts
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &ProfileClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		timeout:       timeout,
		logger:        logger.Named("ProfileClient"),
		innerAttempts: innerAttempts,
	}
}

// httpClientFor builds a fasthttp client dialing through proxy, or a plain
// one when proxy is nil.
func (c *ProfileClient) httpClientFor(proxy *entity.Proxy) *fasthttp.Client {
	hc := &fasthttp.Client{
		ReadTimeout:  c.timeout,
		WriteTimeout: c.timeout,
	}
	if proxy == nil {
		return hc
	}
	switch proxy.Protocol {
	case entity.ProxyProtocolSOCKS4, entity.ProxyProtocolSOCKS5:
		hc.Dial = fasthttpproxy.FasthttpSocksDialer(proxy.URL())
	default:
		addr := fmt.Sprintf("%s:%d", proxy.Host, proxy.Port)
		if proxy.HasCredentials() {
			addr = fmt.Sprintf("%s:%s@%s", proxy.Username, proxy.Password, addr)
		}
		hc.Dial = fasthttpproxy.FasthttpHTTPDialerTimeout(addr, c.timeout)
	}
	return hc
}

// Fetch retrieves the raw token and protocol batches for one address
// through the given proxy (or directly when proxy is nil).
func (c *ProfileClient) Fetch(ctx context.Context, address string, proxy *entity.Proxy) (*entity.RawPortfolioPayload, error) {
	hc := c.httpClientFor(proxy)

	var lastErr error
	for attempt := 0; attempt < c.innerAttempts; attempt++ {
		if attempt > 0 {
			wait := utils.JitterDuration(time.Duration(attempt+1)*innerBackoffStep, innerBackoffJitter)
			c.logger.Debug("Retrying profile fetch after backoff",
				zap.String("address", address),
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait))
			if err := utils.SleepContext(ctx, wait); err != nil {
				return nil, entity.NewFetchError(entity.FetchErrorTransient, address, err)
			}
		}

		payload, err := c.fetchOnce(ctx, hc, address)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		if entity.FetchErrorKindOf(err) != entity.FetchErrorTransient {
			return nil, err
		}
		c.logger.Warn("Transient profile fetch failure",
			zap.String("address", address),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

func (c *ProfileClient) fetchOnce(ctx context.Context, hc *fasthttp.Client, address string) (*entity.RawPortfolioPayload, error) {
	var tokens []entity.RawToken
	tokensURL := fmt.Sprintf("%s/user/%s/token_list", c.baseURL, address)
	if err := c.getJSON(ctx, hc, tokensURL, &tokens); err != nil {
		return nil, entity.NewFetchError(classifyHTTPError(err), address, err)
	}

	var protocols []entity.RawProtocol
	protocolsURL := fmt.Sprintf("%s/user/%s/complex_protocol_list", c.baseURL, address)
	if err := c.getJSON(ctx, hc, protocolsURL, &protocols); err != nil {
		return nil, entity.NewFetchError(classifyHTTPError(err), address, err)
	}

	payload := &entity.RawPortfolioPayload{Tokens: tokens, Protocols: protocols}
	if payload.Empty() {
		return nil, entity.NewFetchError(entity.FetchErrorTransient, address,
			fmt.Errorf("profile service returned an empty payload"))
	}
	return payload, nil
}

func (c *ProfileClient) getJSON(ctx context.Context, hc *fasthttp.Client, requestURL string, dest any) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(requestURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = hc.DoDeadline(req, resp, deadline)
	} else {
		err = hc.DoTimeout(req, resp, c.timeout)
	}
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", requestURL, err)
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return &httpStatusError{status: resp.StatusCode(), url: requestURL}
	}

	if err := json.Unmarshal(resp.Body(), dest); err != nil {
		return fmt.Errorf("failed to unmarshal response from %s: %w", requestURL, err)
	}
	return nil
}

type httpStatusError struct {
	status int
	url    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.url, e.status)
}

// classifyHTTPError maps transport and status errors onto the fetch error
// taxonomy: dial, tunnel and auth-rejection problems count against the
// proxy, everything else is transient.
func classifyHTTPError(err error) entity.FetchErrorKind {
	var se *httpStatusError
	if errors.As(err, &se) {
		switch se.status {
		case fasthttp.StatusProxyAuthRequired, fasthttp.StatusForbidden, fasthttp.StatusTooManyRequests:
			return entity.FetchErrorProxy
		default:
			return entity.FetchErrorTransient
		}
	}

	msg := err.Error()
	for _, marker := range []string{"dial", "connection refused", "connection reset", "proxy", "tunnel", "broken pipe"} {
		if strings.Contains(msg, marker) {
			return entity.FetchErrorProxy
		}
	}
	return entity.FetchErrorTransient
}

// Probe performs a minimal request through proxy to decide whether it can
// carry traffic at all. Used by the background health sweep.
func (c *ProfileClient) Probe(ctx context.Context, proxy entity.Proxy) error {
	hc := c.httpClientFor(&proxy)

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(c.baseURL + "/ping")
	req.Header.SetMethod(fasthttp.MethodGet)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = hc.DoDeadline(req, resp, deadline)
	} else {
		err = hc.DoTimeout(req, resp, c.timeout)
	}
	if err != nil {
		return fmt.Errorf("probe through %s failed: %w", proxy.Key(), err)
	}
	if resp.StatusCode() >= fasthttp.StatusInternalServerError {
		return fmt.Errorf("probe through %s got status %d", proxy.Key(), resp.StatusCode())
	}
	return nil
}
