package ai

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// ErrorKind is the structured classification of a failed analysis.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindOther      ErrorKind = "other"
)

// Query is one detection the classifier is asked about.
type Query struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Phrase string    `json:"phrase"`
}

type Match struct {
	ID    uuid.UUID `json:"id"`
	Match bool      `json:"match"`
}

// Result is the outcome of one combined analysis call. Failures are
// reported with Success=false and never as a Go error.
type Result struct {
	Success    bool
	Detections []Match
	Error      string
	Kind       ErrorKind
}

// Classifier answers every query against one JPEG frame in a single call.
// Implementations must be safe for concurrent use.
type Classifier interface {
	AnalyzeCombined(ctx context.Context, jpeg []byte, queries []Query) Result
}

// Failed builds an unsuccessful Result from err.
func Failed(err error) Result {
	return Result{Error: err.Error(), Kind: KindOf(err)}
}

// Classify returns the failure kind of r, KindNone on success. A missing
// structured kind falls back to keyword matching on the error text.
func Classify(r Result) ErrorKind {
	if r.Success {
		return KindNone
	}
	if r.Kind != KindNone {
		return r.Kind
	}
	return ClassifyText(r.Error)
}

var (
	timeoutKeywords = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
	}
	connectionKeywords = []string{
		"connection refused",
		"connection reset",
		"bad gateway",
		"service unavailable",
		"host unreachable",
		"network unreachable",
		"no route to host",
		"cannot connect",
		"could not connect",
		"failed to connect",
		"no such host",
		"name resolution",
		"name or service not known",
		"dns",
	}
)

// ClassifyText maps free-form error text to a kind.
func ClassifyText(msg string) ErrorKind {
	msg = strings.ToLower(msg)
	if msg == "" {
		return KindOther
	}
	if containsAny(msg, timeoutKeywords) {
		return KindTimeout
	}
	if containsAny(msg, connectionKeywords) {
		return KindConnection
	}
	return KindOther
}

// KindOf classifies a transport error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return KindConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}
	return ClassifyText(err.Error())
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
