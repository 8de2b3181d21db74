package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule maps an error-message substring to a classification.
type Rule struct {
	Contains string `yaml:"contains"`
	Kind     Kind   `yaml:"kind"`
	Code     string `yaml:"code"`
}

// Classifier turns arbitrary adapter errors into classified provider errors.
// Custom rules run before the built-in ones so operators can override
// provider-specific message quirks without a code change.
type Classifier struct {
	rules []Rule
}

// NewClassifier returns a classifier with only the built-in rules.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// NewClassifierFromFile loads custom YAML rules and prepends them to the
// built-in ones. An empty path returns the default classifier.
func NewClassifierFromFile(path string) (*Classifier, error) {
	if strings.TrimSpace(path) == "" {
		return NewClassifier(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier rules: %w", err)
	}
	var rules []Rule
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse classifier rules: %w", err)
	}
	for i, rule := range rules {
		if strings.TrimSpace(rule.Contains) == "" {
			return nil, fmt.Errorf("classifier rule %d: contains is required", i)
		}
		if rule.Kind != KindTransient && rule.Kind != KindPermanent {
			return nil, fmt.Errorf("classifier rule %d: kind must be transient or permanent", i)
		}
	}
	return &Classifier{rules: rules}, nil
}

// Classify returns a classified error. Already-classified errors pass
// through untouched.
func (c *Classifier) Classify(err error) *Error {
	if err == nil {
		return Permanent(CodeInternal, nil)
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(CodeTimeout, err)
	}
	// Cancellation is the caller tearing down the call (worker shutdown),
	// not a provider verdict on the content.
	if errors.Is(err, context.Canceled) {
		return Transient(CodeTransport, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient(CodeTimeout, err)
	}

	msg := strings.ToLower(err.Error())

	for _, rule := range c.rules {
		if strings.Contains(msg, strings.ToLower(rule.Contains)) {
			code := rule.Code
			if code == "" {
				code = CodeInternal
			}
			if rule.Kind == KindTransient {
				return Transient(code, err)
			}
			return Permanent(code, err)
		}
	}

	return classifyBuiltin(msg, err)
}

func classifyBuiltin(msg string, err error) *Error {
	if strings.Contains(msg, "http status 5") || strings.Contains(msg, "server_error") {
		return Transient(CodeUnavailable, err)
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return Transient(CodeRateLimited, err)
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
		return Transient(CodeTimeout, err)
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "eof") {
		return Transient(CodeTransport, err)
	}
	if strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "forbidden") {
		return Permanent(CodeAuthFailed, err)
	}
	if strings.Contains(msg, "unsupported") || strings.Contains(msg, "invalid audio") || strings.Contains(msg, "could not decode") {
		return Permanent(CodeUnsupportedContent, err)
	}
	if strings.Contains(msg, "storage") || strings.Contains(msg, "object store") {
		return Transient(CodeStorage, err)
	}
	return Permanent(CodeInternal, err)
}
