package provider

import (
	"errors"
	"fmt"
	"time"
)

// Error codes for the provider failure taxonomy
const (
	ErrCodeRateLimit     = "RATE_LIMIT"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeRegionBlocked = "REGION_BLOCKED"
	ErrCodeNotSupported  = "NOT_SUPPORTED"
	ErrCodeCircuitOpen   = "CIRCUIT_OPEN"
	ErrCodeAPIError      = "API_ERROR"
	ErrCodeNoProvider    = "NO_PROVIDER"
)

// Error is a classified provider failure. The arbitration engine keys
// its fallback and penalty behavior off Code.
type Error struct {
	Provider   string        `json:"provider"`
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Temporary  bool          `json:"temporary"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Cause      error         `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Provider, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Provider, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewRateLimitError marks a quota rejection; retryAfter may be zero
func NewRateLimitError(providerName string, retryAfter time.Duration) *Error {
	return &Error{
		Provider:   providerName,
		Code:       ErrCodeRateLimit,
		Message:    "rate limit exceeded",
		Temporary:  true,
		RetryAfter: retryAfter,
	}
}

// NewTimeoutError marks a request that exceeded its deadline
func NewTimeoutError(providerName string, cause error) *Error {
	return &Error{
		Provider:  providerName,
		Code:      ErrCodeTimeout,
		Message:   "request timed out",
		Temporary: true,
		Cause:     cause,
	}
}

// NewRegionBlockedError marks a regional restriction rejection
func NewRegionBlockedError(providerName string) *Error {
	return &Error{
		Provider:  providerName,
		Code:      ErrCodeRegionBlocked,
		Message:   "provider blocked in this region",
		Temporary: false,
	}
}

// NewNotSupportedError marks a request outside the provider's coverage
func NewNotSupportedError(providerName, what string) *Error {
	return &Error{
		Provider:  providerName,
		Code:      ErrCodeNotSupported,
		Message:   "not supported: " + what,
		Temporary: false,
	}
}

// NewAPIError wraps any other upstream failure
func NewAPIError(providerName string, cause error) *Error {
	return &Error{
		Provider:  providerName,
		Code:      ErrCodeAPIError,
		Message:   "provider api error",
		Temporary: true,
		Cause:     cause,
	}
}

// NoProviderError signals that no registered provider can serve a request
type NoProviderError struct {
	Symbol   string
	DataType string
}

func (e *NoProviderError) Error() string {
	return fmt.Sprintf("no provider available for %s %s", e.DataType, e.Symbol)
}

// CodeOf extracts the taxonomy code from any error chain
func CodeOf(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	var nperr *NoProviderError
	if errors.As(err, &nperr) {
		return ErrCodeNoProvider
	}
	return ErrCodeAPIError
}
