package entity

import (
	"fmt"
	"time"
)

// ProxyProtocol is the scheme a proxy is reachable over.
type ProxyProtocol string

const (
	ProxyProtocolHTTP   ProxyProtocol = "http"
	ProxyProtocolHTTPS  ProxyProtocol = "https"
	ProxyProtocolSOCKS4 ProxyProtocol = "socks4"
	ProxyProtocolSOCKS5 ProxyProtocol = "socks5"
)

// Proxy describes a single outbound proxy endpoint. Proxies are immutable
// once loaded; the pool replaces the whole list on reload instead of
// patching entries in place.
type Proxy struct {
	Host     string        `json:"host" yaml:"host"`
	Port     int           `json:"port" yaml:"port"`
	Protocol ProxyProtocol `json:"protocol" yaml:"protocol"`
	Username string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password string        `json:"-" yaml:"password,omitempty"`
}

// Key returns the identity key of the proxy: protocol://host:port.
// Credentials are not part of the identity.
func (p Proxy) Key() string {
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Host, p.Port)
}

// HasCredentials reports whether the proxy carries a username and password.
// Anonymous proxies are excluded from rotation.
func (p Proxy) HasCredentials() bool {
	return p.Username != "" && p.Password != ""
}

// URL returns the full connection URL including credentials, suitable for
// handing to a proxy dialer.
func (p Proxy) URL() string {
	if p.HasCredentials() {
		return fmt.Sprintf("%s://%s:%s@%s:%d", p.Protocol, p.Username, p.Password, p.Host, p.Port)
	}
	return p.Key()
}

// CircuitState is the per-proxy circuit breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// ProxyHealth tracks empirical statistics for one proxy key. Created lazily
// on first use, reset only on explicit pool reload.
type ProxyHealth struct {
	SuccessCount        int           `json:"successCount"`
	FailCount           int           `json:"failCount"`
	LastUsedAt          time.Time     `json:"lastUsedAt"`
	LastResponseTime    time.Duration `json:"lastResponseTimeMs,omitempty"`
	CircuitState        CircuitState  `json:"circuitState"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastFailureAt       time.Time     `json:"lastFailureAt"`
}

// SuccessRate returns the empirical success ratio, or 0 when the proxy has
// never been used.
func (h *ProxyHealth) SuccessRate() float64 {
	total := h.SuccessCount + h.FailCount
	if total == 0 {
		return 0
	}
	return float64(h.SuccessCount) / float64(total)
}

// ProxyStats is a read-only per-proxy view exposed for observability.
type ProxyStats struct {
	Key                 string       `json:"key"`
	Host                string       `json:"host"`
	SuccessCount        int          `json:"successCount"`
	FailCount           int          `json:"failCount"`
	SuccessRate         float64      `json:"successRate"`
	CircuitState        CircuitState `json:"circuitState"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	LastUsedAt          time.Time    `json:"lastUsedAt,omitempty"`
	Country             string       `json:"country,omitempty"`
}

// PoolStats is the aggregate view of the whole pool.
type PoolStats struct {
	Total     int `json:"total"`
	Working   int `json:"working"`
	Failed    int `json:"failed"`
	Unchecked int `json:"unchecked"`
	Open      int `json:"openBreakers"`
}
