package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned for mime types no extractor is registered for.
// The ingestion worker treats it as a per-file failure, never a job failure.
var ErrUnsupported = errors.New("unsupported mime type")

// ErrEmpty is returned when extraction succeeds but yields no text.
var ErrEmpty = errors.New("no text content")

// Extractor turns one file format's bytes into plain text. Page breaks, when
// the format has them, are emitted as [Page N] markers for the chunker.
type Extractor interface {
	Extract(ctx context.Context, content []byte) (string, error)
}

// Registry dispatches extraction by mime type. Adding a format means
// registering a variant, not modifying callers.
type Registry struct {
	byMime map[string]Extractor
}

func NewRegistry() *Registry {
	r := &Registry{byMime: make(map[string]Extractor)}

	plain := PlainText{}
	for _, m := range []string{"text/plain", "text/markdown", "application/xml", "text/xml"} {
		r.Register(m, plain)
	}
	r.Register("text/csv", CSV{})
	r.Register("application/json", JSONText{})
	r.Register("text/html", HTML{})
	r.Register("application/xhtml+xml", HTML{})

	return r
}

func (r *Registry) Register(mimeType string, e Extractor) {
	r.byMime[normalizeMime(mimeType)] = e
}

// Extract dispatches on mime type. Parameters such as charset are ignored
// for lookup purposes.
func (r *Registry) Extract(ctx context.Context, content []byte, mimeType string) (string, error) {
	e, ok := r.byMime[normalizeMime(mimeType)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}

	text, err := e.Extract(ctx, content)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmpty
	}
	return text, nil
}

// Supports reports whether a mime type has a registered extractor.
func (r *Registry) Supports(mimeType string) bool {
	_, ok := r.byMime[normalizeMime(mimeType)]
	return ok
}

func normalizeMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
