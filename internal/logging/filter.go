// Package logging provides logging utilities including sensitive data
// filtering. This package contains hooks and utilities for zerolog that
// help ensure bearer tokens and credentials never reach log files.
package logging

import (
	"io"
	"regexp"

	"github.com/rs/zerolog"
)

// RedactedValue is the replacement string for sensitive data.
const RedactedValue = "[REDACTED]"

// sensitivePatterns contains compiled regular expressions for detecting
// sensitive values: hosting-provider tokens, bearer headers, and generic
// key=value credentials.
var sensitivePatterns = []*regexp.Regexp{ //nolint:gochecknoglobals // Package-level patterns for reuse
	// GitHub tokens (ghp_, gho_, ghu_, ghs_, ghr_)
	regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{20,}`),

	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`),

	// Generic API keys, in env-style (key=value) or JSON ("key":"value") form
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)["']?\s*[:=]\s*["']?[a-zA-Z0-9_-]{16,}["']?`),

	// Generic secret patterns, env-style or JSON
	regexp.MustCompile(`(?i)(secret|password|credential|token)["']?\s*[:=]\s*["']?[^\s"']{8,}["']?`),
}

// SensitiveDataHook is a zerolog hook that flags log entries whose
// message contains sensitive data. Zerolog hooks cannot rewrite the
// message; value-level filtering happens through FilterSensitiveValue
// and the FilteringWriter.
type SensitiveDataHook struct{}

// NewSensitiveDataHook creates a new SensitiveDataHook.
func NewSensitiveDataHook() *SensitiveDataHook {
	return &SensitiveDataHook{}
}

// Run implements the zerolog.Hook interface.
func (h *SensitiveDataHook) Run(e *zerolog.Event, _ zerolog.Level, msg string) {
	if ContainsSensitiveData(msg) {
		e.Bool("contains_filtered_data", true)
	}
}

// ContainsSensitiveData checks if a string matches any sensitive pattern.
func ContainsSensitiveData(s string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(s) {
			return true
		}
	}
	return false
}

// FilterSensitiveValue replaces matches of sensitive patterns with
// [REDACTED]. Use when logging potentially sensitive values.
func FilterSensitiveValue(value string) string {
	result := value
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// FilteringWriter wraps an io.Writer and redacts sensitive data from
// every write. Used in front of the rotating log file.
type FilteringWriter struct {
	target io.Writer
}

// NewFilteringWriter creates a FilteringWriter over target.
func NewFilteringWriter(target io.Writer) *FilteringWriter {
	return &FilteringWriter{target: target}
}

// Write implements io.Writer. The reported length matches the input so
// zerolog never sees a short write, even when redaction shrinks the
// payload.
func (w *FilteringWriter) Write(p []byte) (int, error) {
	filtered := FilterSensitiveValue(string(p))
	if _, err := w.target.Write([]byte(filtered)); err != nil {
		return 0, err
	}
	return len(p), nil
}
