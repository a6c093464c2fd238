package templates

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/artisanmart/notifier/internal/classify"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Render substitutes every {{name}} slot of tpl. A slot without a parameter
// fails with MISSING_TEMPLATE_PARAM.
func Render(tpl *Template, params map[string]string) (string, error) {
	if tpl == nil {
		return "", classify.New(classify.CodeInvalidTemplate, classify.CategoryValidation, "template is nil")
	}
	var missing []string
	seen := map[string]bool{}
	out := placeholder.ReplaceAllStringFunc(tpl.Body, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		if v, ok := params[key]; ok {
			return v
		}
		if !seen[key] {
			seen[key] = true
			missing = append(missing, key)
		}
		return m
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", classify.New(classify.CodeMissingTemplateParam, classify.CategoryValidation,
			fmt.Sprintf("template %s is missing parameters: %s", tpl.Name, strings.Join(missing, ", ")))
	}
	return strings.TrimSpace(out), nil
}

// Renderer resolves a template and renders it.
type Renderer struct {
	store Store
}

// NewRenderer constructs a Renderer.
func NewRenderer(store Store) *Renderer {
	return &Renderer{store: store}
}

// Text renders the named template into plain text. An unknown template fails
// with INVALID_TEMPLATE.
func (r *Renderer) Text(ctx context.Context, name, language string, params map[string]string) (string, error) {
	if r == nil || r.store == nil {
		return "", classify.New(classify.CodeInvalidTemplate, classify.CategoryValidation, "no template store configured")
	}
	tpl, err := r.store.Get(ctx, name, language)
	if errors.Is(err, ErrNotFound) {
		return "", classify.New(classify.CodeInvalidTemplate, classify.CategoryValidation,
			fmt.Sprintf("template not found: %s", name)).WithCause(err)
	}
	if err != nil {
		return "", err
	}
	return Render(tpl, params)
}
