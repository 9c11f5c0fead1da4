package geoip

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"portfolio_tracker/internal/app/port"
	"portfolio_tracker/internal/pkg/utils"

	jsoniter "github.com/json-iterator/go"
	gocache "github.com/patrickmn/go-cache"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// Cached lookups stay valid for a week; proxy hosts rarely move.
	cacheTTL        = 7 * 24 * time.Hour
	cleanupInterval = 6 * time.Hour

	defaultBaseURL   = "http://ip-api.com/json"
	defaultCachePath = "data/geoip_cache.json"
	requestTimeout   = 10 * time.Second

	// ip-api.com allows 45 requests per minute on the free tier.
	defaultRatePerMinute = 40
)

// cacheEntry is the persisted form of one lookup, keyed by the raw proxy
// host (not normalized).
type cacheEntry struct {
	Country   string    `json:"country"`
	Timestamp time.Time `json:"timestamp"`
}

type lookupResponse struct {
	Status  string `json:"status"`
	Country string `json:"country"`
}

// Resolver implements port.GeoIPResolver over a rate-limited HTTP lookup
// service with a TTL cache persisted to a JSON document.
type Resolver struct {
	baseURL  string
	filePath string
	cache    *gocache.Cache
	client   *fasthttp.Client
	limiter  *rate.Limiter
	logger   port.Logger
}

// NewResolver creates a Resolver and loads any previously persisted cache
// document. Empty-string arguments select the defaults.
func NewResolver(baseURL, filePath string, ratePerMinute int, l port.Logger) *Resolver {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if filePath == "" {
		filePath = defaultCachePath
	}
	if ratePerMinute <= 0 {
		ratePerMinute = defaultRatePerMinute
	}
	r := &Resolver{
		baseURL:  strings.TrimRight(baseURL, "/"),
		filePath: filePath,
		cache:    gocache.New(cacheTTL, cleanupInterval),
		client:   &fasthttp.Client{ReadTimeout: requestTimeout, WriteTimeout: requestTimeout},
		limiter:  rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), 1),
		logger:   l,
	}
	r.load()
	return r
}

func (r *Resolver) load() {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("Failed to read GeoIP cache document, starting empty", "path", r.filePath, "error", err)
		}
		return
	}

	var entries map[string]cacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		r.logger.Warn("GeoIP cache document is corrupt, starting empty", "path", r.filePath, "error", err)
		return
	}

	now := time.Now()
	loaded := 0
	for host, entry := range entries {
		age := now.Sub(entry.Timestamp)
		if age >= cacheTTL {
			continue
		}
		r.cache.Set(host, entry, cacheTTL-age)
		loaded++
	}
	r.logger.Info("GeoIP cache loaded", "path", r.filePath, "entries", loaded, "expired_dropped", len(entries)-loaded)
}

// Country returns the cached country for host without triggering a lookup.
func (r *Resolver) Country(host string) (string, bool) {
	if v, ok := r.cache.Get(host); ok {
		return v.(cacheEntry).Country, true
	}
	return "", false
}

// Resolve returns the country for host, consulting the cache first and
// falling back to a rate-limited lookup.
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	if country, ok := r.Country(host); ok {
		return country, nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("geoip rate limit wait aborted: %w", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(fmt.Sprintf("%s/%s?fields=status,country", r.baseURL, host))
	req.Header.SetMethod(fasthttp.MethodGet)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = r.client.DoDeadline(req, resp, deadline)
	} else {
		err = r.client.DoTimeout(req, resp, requestTimeout)
	}
	if err != nil {
		return "", fmt.Errorf("geoip lookup for %s failed: %w", host, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return "", fmt.Errorf("geoip lookup for %s returned status %d", host, resp.StatusCode())
	}

	var lr lookupResponse
	if err := json.Unmarshal(resp.Body(), &lr); err != nil {
		return "", fmt.Errorf("failed to unmarshal geoip response for %s: %w", host, err)
	}
	if lr.Status != "success" {
		return "", fmt.Errorf("geoip lookup for %s was rejected: %s", host, lr.Status)
	}

	r.cache.Set(host, cacheEntry{Country: lr.Country, Timestamp: time.Now()}, gocache.DefaultExpiration)
	return lr.Country, nil
}

// Persist writes the current cache contents to the JSON document. Called
// periodically by the background scheduler.
func (r *Resolver) Persist() error {
	items := r.cache.Items()
	entries := make(map[string]cacheEntry, len(items))
	for host, item := range items {
		entries[host] = item.Object.(cacheEntry)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal geoip cache: %w", err)
	}
	if err := utils.WriteFileAtomic(r.filePath, data); err != nil {
		return fmt.Errorf("failed to persist geoip cache: %w", err)
	}
	return nil
}

// Sweep drops expired entries from memory and rewrites the document so
// expired entries disappear from disk as well.
func (r *Resolver) Sweep() error {
	before := r.cache.ItemCount()
	r.cache.DeleteExpired()
	after := r.cache.ItemCount()
	if before != after {
		r.logger.Info("GeoIP cache sweep removed expired entries", "removed", before-after, "remaining", after)
	}
	return r.Persist()
}
