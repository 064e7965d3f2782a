// Package provider holds helpers shared by the hosted model adapters: error
// classification and credential lookup.
package provider

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"

	openai "github.com/openai/openai-go"

	"meetrag/internal/domain"
)

// OpenAIError maps an openai-go error onto the error taxonomy. Rate limits,
// 5xx responses, timeouts and network failures are transient.
func OpenAIError(err error, message string) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return domain.Transient(err, message)
		case apiErr.StatusCode == 400 || apiErr.StatusCode == 413 || apiErr.StatusCode == 422:
			return domain.Wrap(domain.KindValidation, err, message)
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			// Another credential may work, so let key rotation try it.
			return domain.Transient(err, message)
		}
		return domain.Wrap(domain.KindFatal, err, message)
	}
	return classifyGeneric(err, message)
}

// GeminiError maps a genai error onto the error taxonomy using its status text.
func GeminiError(err error, message string) error {
	if err == nil {
		return nil
	}
	text := err.Error()
	for _, marker := range []string{
		"RESOURCE_EXHAUSTED", "UNAVAILABLE", "INTERNAL", "DEADLINE_EXCEEDED",
		"PERMISSION_DENIED", "UNAUTHENTICATED",
		"Error 429", "Error 500", "Error 502", "Error 503", "Error 504",
	} {
		if strings.Contains(text, marker) {
			return domain.Transient(err, message)
		}
	}
	if strings.Contains(text, "INVALID_ARGUMENT") {
		return domain.Wrap(domain.KindValidation, err, message)
	}
	return classifyGeneric(err, message)
}

func classifyGeneric(err error, message string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Transient(err, message)
	}
	if errors.Is(err, context.Canceled) {
		return domain.Wrap(domain.KindFatal, err, message)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.Transient(err, message)
	}
	return domain.Boundary(err, message)
}

// KeysFromEnv resolves an ordered list of environment variable names to the
// non-empty credentials they hold.
func KeysFromEnv(envs []string) []string {
	var keys []string
	for _, env := range envs {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			keys = append(keys, v)
		}
	}
	return keys
}
