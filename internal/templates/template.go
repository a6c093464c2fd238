// Package templates stores message templates and renders them into plain
// text for channels that cannot carry an approved template.
package templates

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultLanguage is used when a template has no variant for the requested language.
const DefaultLanguage = "en"

// ErrNotFound is returned when no template matches.
var ErrNotFound = errors.New("templates: not found")

// Template is a message skeleton with {{name}} parameter slots.
type Template struct {
	Name      string    `json:"name"`
	Language  string    `json:"language"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store resolves templates. Implementations fall back to DefaultLanguage
// when the requested language has no variant.
type Store interface {
	Get(ctx context.Context, name, language string) (*Template, error)
}

func normalizeKey(name, language string) (string, string) {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		language = DefaultLanguage
	}
	return strings.TrimSpace(name), language
}
