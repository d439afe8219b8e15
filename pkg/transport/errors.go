package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type ErrorClass int

const (
	// Retryable failures may succeed on a later attempt.
	Retryable ErrorClass = iota
	// Terminal failures discard the batch immediately.
	Terminal
	// Fatal failures mean the sink can never work with this configuration.
	Fatal
)

func (c ErrorClass) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var ErrInvalidConfig = errors.New("invalid sink configuration")

type DeliveryError struct {
	Class      ErrorClass
	StatusCode int
	// RetryAfter is the server's requested delay, zero when it sent none.
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s delivery failure (status %d): %v", e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s delivery failure: %v", e.Class, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func NewRetryableError(err error) *DeliveryError {
	return &DeliveryError{Class: Retryable, Err: err}
}

func NewTerminalError(err error) *DeliveryError {
	return &DeliveryError{Class: Terminal, Err: err}
}

func NewFatalError(err error) *DeliveryError {
	return &DeliveryError{Class: Fatal, Err: err}
}

// ClassifyStatus maps an HTTP status code: 429 and 5xx are retryable, every
// other non-2xx status is terminal.
func ClassifyStatus(code int) ErrorClass {
	if code == http.StatusTooManyRequests || code >= 500 {
		return Retryable
	}
	return Terminal
}

// NewStatusError builds the error for a non-2xx response. body is truncated.
func NewStatusError(code int, header http.Header, body []byte) *DeliveryError {
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	deliveryErr := &DeliveryError{
		Class:      ClassifyStatus(code),
		StatusCode: code,
		Err:        fmt.Errorf("gateway responded %s: %s", http.StatusText(code), text),
	}
	if code == http.StatusTooManyRequests && header != nil {
		deliveryErr.RetryAfter = ParseRetryAfter(header.Get("Retry-After"))
	}
	return deliveryErr
}

// ParseRetryAfter understands the delay-seconds form only.
func ParseRetryAfter(value string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Classify decides how a sink error is treated. Errors a sink did not
// classify itself are retryable when they come from the network or a
// deadline and terminal otherwise.
func Classify(err error) ErrorClass {
	if err == nil {
		return Retryable
	}
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.Class
	}
	if errors.Is(err, ErrInvalidConfig) {
		return Fatal
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}
	return Terminal
}

func retryAfter(err error) time.Duration {
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.RetryAfter
	}
	return 0
}
