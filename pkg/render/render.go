// Package render converts turn markdown to HTML for display.
package render

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/entrhq/memochat/pkg/types"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
)

// Renderer converts markdown to HTML and caches every result by source text.
//
// The cache is unbounded and only grows; entries are dropped only by Reset.
// A streaming turn produces one entry per distinct prefix that was rendered,
// so hosts that render on every delta should Reset when a conversation is
// cleared.
type Renderer struct {
	md          goldmark.Markdown
	highlighter *codeBlockRenderer

	mu    sync.RWMutex
	cache map[string]string
	hits  int
}

// New creates a renderer with GitHub-flavored markdown enabled. Fenced code
// blocks are syntax highlighted.
func New() *Renderer {
	highlighter := newCodeBlockRenderer()
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				renderer.WithNodeRenderers(util.Prioritized(highlighter, 100)),
			),
		),
		highlighter: highlighter,
		cache:       make(map[string]string),
	}
}

// Render returns the HTML for src.
func (r *Renderer) Render(src string) (string, error) {
	r.mu.RLock()
	out, ok := r.cache[src]
	r.mu.RUnlock()
	if ok {
		r.mu.Lock()
		r.hits++
		r.mu.Unlock()
		return out, nil
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	out = buf.String()

	r.mu.Lock()
	r.cache[src] = out
	r.mu.Unlock()
	return out, nil
}

// RenderTurn renders the content of a turn. User turns are shown as typed
// and are escaped rather than parsed.
func (r *Renderer) RenderTurn(msg types.Message) (string, error) {
	if msg.Role == types.RoleUser {
		var buf bytes.Buffer
		buf.WriteString("<p>")
		buf.Write(util.EscapeHTML([]byte(msg.Content)))
		buf.WriteString("</p>\n")
		return buf.String(), nil
	}
	return r.Render(msg.Content)
}

// Stats returns the number of cached entries and cache hits.
func (r *Renderer) Stats() (entries, hits int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache), r.hits
}

// Reset drops every cached entry.
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]string)
	r.hits = 0
}
