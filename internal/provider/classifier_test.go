package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestClassifyPassesThroughClassifiedErrors(t *testing.T) {
	c := NewClassifier()
	orig := Permanent(CodeUnsupportedContent, errors.New("bad codec"))

	got := c.Classify(fmt.Errorf("transcribe: %w", orig))
	if got != orig {
		t.Fatalf("expected passthrough of classified error, got %v", got)
	}
}

func TestClassifyDeadlineExceededIsTransientTimeout(t *testing.T) {
	c := NewClassifier()

	got := c.Classify(fmt.Errorf("call provider: %w", context.DeadlineExceeded))
	if got.Kind != KindTransient {
		t.Fatalf("expected transient, got %s", got.Kind)
	}
	if got.Code != CodeTimeout {
		t.Fatalf("expected %s, got %s", CodeTimeout, got.Code)
	}
	if !got.Retryable() {
		t.Fatalf("expected retryable")
	}
}

func TestClassifyCanceledIsTransient(t *testing.T) {
	c := NewClassifier()

	got := c.Classify(fmt.Errorf("openai transcribe: post audio: %w", context.Canceled))
	if got.Kind != KindTransient {
		t.Fatalf("expected transient, got %s", got.Kind)
	}
	if got.Code != CodeTransport {
		t.Fatalf("expected %s, got %s", CodeTransport, got.Code)
	}
	if !got.Retryable() {
		t.Fatalf("expected retryable")
	}
}

func TestClassifyBuiltinRules(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		msg  string
		kind Kind
		code string
	}{
		{"openai: http status 503", KindTransient, CodeUnavailable},
		{"rate limit exceeded, slow down", KindTransient, CodeRateLimited},
		{"read tcp: connection reset by peer", KindTransient, CodeTransport},
		{"401 unauthorized", KindPermanent, CodeAuthFailed},
		{"unsupported media format", KindPermanent, CodeUnsupportedContent},
		{"object store unavailable for key", KindTransient, CodeStorage},
		{"something inexplicable happened", KindPermanent, CodeInternal},
	}
	for _, tt := range tests {
		got := c.Classify(errors.New(tt.msg))
		if got.Kind != tt.kind {
			t.Fatalf("%q: expected kind %s, got %s", tt.msg, tt.kind, got.Kind)
		}
		if got.Code != tt.code {
			t.Fatalf("%q: expected code %s, got %s", tt.msg, tt.code, got.Code)
		}
	}
}

func TestClassifyCustomRulesWinOverBuiltin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	rules := `
- contains: "quota exceeded"
  kind: permanent
  code: RATE_LIMITED
- contains: "flaky backend"
  kind: transient
`
	if err := os.WriteFile(path, []byte(rules), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	c, err := NewClassifierFromFile(path)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}

	got := c.Classify(errors.New("monthly quota exceeded for key"))
	if got.Kind != KindPermanent || got.Code != CodeRateLimited {
		t.Fatalf("expected permanent RATE_LIMITED from custom rule, got %s %s", got.Kind, got.Code)
	}

	got = c.Classify(errors.New("flaky backend exploded"))
	if got.Kind != KindTransient {
		t.Fatalf("expected transient from custom rule, got %s", got.Kind)
	}
	if got.Code != CodeInternal {
		t.Fatalf("expected default code for codeless rule, got %s", got.Code)
	}
}

func TestNewClassifierFromFileRejectsBadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("- contains: \"x\"\n  kind: sideways\n"), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	if _, err := NewClassifierFromFile(path); err == nil {
		t.Fatalf("expected error for invalid kind")
	}
}

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
		code   string
	}{
		{401, KindPermanent, CodeAuthFailed},
		{408, KindTransient, CodeTimeout},
		{415, KindPermanent, CodeUnsupportedContent},
		{429, KindTransient, CodeRateLimited},
		{500, KindTransient, CodeUnavailable},
		{503, KindTransient, CodeUnavailable},
		{400, KindPermanent, CodeInvalidRequest},
	}
	for _, tt := range tests {
		got := FromHTTPStatus(tt.status, errors.New("x"))
		if got.Kind != tt.kind || got.Code != tt.code {
			t.Fatalf("status %d: expected %s %s, got %s %s", tt.status, tt.kind, tt.code, got.Kind, got.Code)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := Transient(CodeTimeout, inner)
	if !errors.Is(err, inner) {
		t.Fatalf("expected errors.Is to reach inner error")
	}
}
