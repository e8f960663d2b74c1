package render

import (
	"strings"
	"sync"
	"testing"

	"github.com/entrhq/memochat/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	r := New()

	out, err := r.Render("**bold** and `code`")
	require.NoError(t, err)
	assert.Equal(t, "<p><strong>bold</strong> and <code>code</code></p>\n", out)

	out, err = r.Render("| a |\n|---|\n| 1 |")
	require.NoError(t, err)
	assert.Contains(t, out, "<table>")

	out, err = r.Render("line one\nline two")
	require.NoError(t, err)
	assert.Contains(t, out, "<br>")
}

func TestRender_CachesBySource(t *testing.T) {
	r := New()

	first, err := r.Render("# Title")
	require.NoError(t, err)
	second, err := r.Render("# Title")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = r.Render("# Other")
	require.NoError(t, err)

	entries, hits := r.Stats()
	assert.Equal(t, 2, entries)
	assert.Equal(t, 1, hits)

	r.Reset()
	entries, hits = r.Stats()
	assert.Zero(t, entries)
	assert.Zero(t, hits)
}

func TestRender_HighlightsFencedCode(t *testing.T) {
	r := New()

	out, err := r.Render("```go\nfunc main() {}\n```")
	require.NoError(t, err)
	assert.Contains(t, out, `class="chroma"`)
	assert.Contains(t, out, "main")
	assert.NotContains(t, out, "```")

	out, err = r.Render("```nosuchlang\na < b\n```")
	require.NoError(t, err)
	assert.Contains(t, out, "&lt;")
	assert.NotContains(t, out, "a < b")
}

func TestRenderer_CSS(t *testing.T) {
	r := New()

	var css strings.Builder
	require.NoError(t, r.CSS(&css, ""))
	assert.Contains(t, css.String(), ".chroma")
}

func TestRenderTurn(t *testing.T) {
	r := New()

	out, err := r.RenderTurn(types.Message{Role: types.RoleUser, Content: "<b>*hi*</b>"})
	require.NoError(t, err)
	assert.Equal(t, "<p>&lt;b&gt;*hi*&lt;/b&gt;</p>\n", out)

	out, err = r.RenderTurn(types.Message{Role: types.RoleAssistant, Content: "*hi*"})
	require.NoError(t, err)
	assert.Equal(t, "<p><em>hi</em></p>\n", out)

	entries, _ := r.Stats()
	assert.Equal(t, 1, entries)
}

func TestRender_Concurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Render("- item")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, _ := r.Stats()
	assert.Equal(t, 1, entries)
}
