package entity

import (
	"errors"
	"fmt"
)

// ErrEmptyPool is returned when a proxy is requested from an empty pool.
var ErrEmptyPool = errors.New("proxy pool is empty")

// ErrWalletNotFound is returned when no record exists for an address.
var ErrWalletNotFound = errors.New("wallet not found")

// FetchErrorKind classifies a fetch failure for retry and breaker handling.
type FetchErrorKind string

const (
	// FetchErrorProxy covers connection refused, auth rejected and tunnel
	// failures. Recorded against the proxy's health, never fatal to a run.
	FetchErrorProxy FetchErrorKind = "proxy"
	// FetchErrorTransient covers timeouts and empty payloads. Retried per
	// the inner/outer tiers.
	FetchErrorTransient FetchErrorKind = "transient"
	// FetchErrorStructural covers unrecoverable conditions such as no
	// fetch backend being reachable at all. Surfaced immediately.
	FetchErrorStructural FetchErrorKind = "structural"
)

// FetchError is a typed failure from the PageFetcher boundary.
type FetchError struct {
	Kind    FetchErrorKind
	Address string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("fetch %s failed (%s): %v", e.Address, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch failed (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err with a kind and the address being fetched.
func NewFetchError(kind FetchErrorKind, address string, err error) *FetchError {
	return &FetchError{Kind: kind, Address: address, Err: err}
}

// FetchErrorKindOf extracts the kind from err, defaulting to transient for
// untyped errors so unknown failures stay retryable.
func FetchErrorKindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FetchErrorTransient
}

// IsStructural reports whether err is fatal to the whole run.
func IsStructural(err error) bool {
	return FetchErrorKindOf(err) == FetchErrorStructural
}
