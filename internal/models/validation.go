package models

import (
	"errors"
	"strings"
)

// Validation errors.
var (
	ErrInvalidChannelName = errors.New("invalid channel name")
	ErrEmptyMessage       = errors.New("empty message")
)

// NormalizeChannelName trims, lowercases, turns inner whitespace runs into
// hyphens and strips '#'. An empty result after normalization is an error.
func NormalizeChannelName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.Join(strings.Fields(normalized), "-")
	normalized = strings.ReplaceAll(normalized, "#", "")
	if normalized == "" {
		return "", ErrInvalidChannelName
	}
	return normalized, nil
}

// NormalizeMessageText trims message text. Empty text is reported so senders
// can treat it as a silent no-op.
func NormalizeMessageText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	return trimmed, nil
}
