package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestClassifyText(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorKind
	}{
		{"request timed out after 10s", KindTimeout},
		{"Read timeout on endpoint", KindTimeout},
		{"context deadline exceeded", KindTimeout},
		{"dial tcp 10.0.0.2:11434: connect: connection refused", KindConnection},
		{"502 Bad Gateway", KindConnection},
		{"Service Unavailable", KindConnection},
		{"lookup ollama: no such host", KindConnection},
		{"Temporary failure in name resolution", KindConnection},
		{"Network unreachable", KindConnection},
		{"invalid json in model answer", KindOther},
		{"", KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := ClassifyText(tt.msg); got != tt.want {
				t.Errorf("ClassifyText(%q) = %q, want %q", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassify_prefersStructuredKind(t *testing.T) {
	r := Result{Error: "connection refused", Kind: KindTimeout}
	if got := Classify(r); got != KindTimeout {
		t.Errorf("Classify() = %q, want structured kind", got)
	}
	r.Kind = KindNone
	if got := Classify(r); got != KindConnection {
		t.Errorf("Classify() fallback = %q, want connection", got)
	}
	if got := Classify(Result{Success: true, Error: "timed out"}); got != KindNone {
		t.Errorf("successful result classified as %q", got)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o wait" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), KindTimeout},
		{"net timeout", timeoutErr{}, KindTimeout},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), KindConnection},
		{"dns", &net.DNSError{Err: "no such host", Name: "ai"}, KindConnection},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("boom")}, KindConnection},
		{"other", errors.New("unexpected end of json"), KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
