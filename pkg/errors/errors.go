package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeFetch represents network and HTTP status errors
	ErrorTypeFetch ErrorType = "fetch"
	// ErrorTypeExtraction represents markup and price parsing errors
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeStore represents price store persistence errors
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeNotify represents messaging transport errors
	ErrorTypeNotify ErrorType = "notify"
	// ErrorTypePublisher represents event publisher errors
	ErrorTypePublisher ErrorType = "publisher"
	// ErrorTypeCache represents cooldown cache errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// PriceError represents an error raised while processing a tracked product
type PriceError struct {
	Type        ErrorType
	Product     string
	Message     string
	Err         error
	RateLimited bool
	Time        time.Time
}

// Error implements the error interface
func (e *PriceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Product, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Product, e.Message)
}

// Unwrap returns the underlying error
func (e *PriceError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the error must abort processing and mark the run failed.
// Fetch, extraction, notify, publisher and cache errors only skip work.
func (e *PriceError) IsFatal() bool {
	switch e.Type {
	case ErrorTypeStore, ErrorTypeConfiguration:
		return true
	default:
		return false
	}
}

// New creates a new PriceError
func New(errType ErrorType, product, message string, err error) *PriceError {
	return &PriceError{
		Type:    errType,
		Product: product,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewFetch creates a new fetch error
func NewFetch(product, message string, err error) *PriceError {
	return New(ErrorTypeFetch, product, message, err)
}

// NewRateLimited creates a fetch error for a response that signals throttling
func NewRateLimited(product string, status int, retryAfter string) *PriceError {
	message := fmt.Sprintf("rate limited (status %d)", status)
	if retryAfter != "" {
		message += "; retry after " + retryAfter
	}
	e := New(ErrorTypeFetch, product, message, nil)
	e.RateLimited = true
	return e
}

// NewExtraction creates a new extraction error
func NewExtraction(product, message string, err error) *PriceError {
	return New(ErrorTypeExtraction, product, message, err)
}

// NewStore creates a new store error
func NewStore(product, message string, err error) *PriceError {
	return New(ErrorTypeStore, product, message, err)
}

// NewNotify creates a new notify error
func NewNotify(product, message string, err error) *PriceError {
	return New(ErrorTypeNotify, product, message, err)
}

// NewPublisher creates a new publisher error
func NewPublisher(product, message string, err error) *PriceError {
	return New(ErrorTypePublisher, product, message, err)
}

// NewCache creates a new cache error
func NewCache(product, message string, err error) *PriceError {
	return New(ErrorTypeCache, product, message, err)
}

// NewValidation creates a new validation error
func NewValidation(product, message string) *PriceError {
	return New(ErrorTypeValidation, product, message, nil)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *PriceError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// IsType reports whether err wraps a PriceError of the given type
func IsType(err error, errType ErrorType) bool {
	var pe *PriceError
	if stderrors.As(err, &pe) {
		return pe.Type == errType
	}
	return false
}

// IsRateLimited reports whether err wraps a rate limited fetch error
func IsRateLimited(err error) bool {
	var pe *PriceError
	if stderrors.As(err, &pe) {
		return pe.RateLimited
	}
	return false
}

// IsFatal reports whether err wraps a fatal PriceError
func IsFatal(err error) bool {
	var pe *PriceError
	if stderrors.As(err, &pe) {
		return pe.IsFatal()
	}
	return false
}
