package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractLinks(t *testing.T) {
	t.Parallel()
	body := []byte(`<html><body>
<a href="/b">b</a>
<a HREF='c.html#frag'>c</a>
<a href="/b#top">b again</a>
<a href="http://other.com/x?a=1&amp;b=2">other</a>
<a href="">empty</a>
<link href="/style.css">
</body></html>`)

	links := ExtractLinks("http://example.com/dir/a", body)
	require.Equal(t, []string{
		"http://example.com/b",
		"http://example.com/dir/c.html",
		"http://example.com/style.css",
		"http://other.com/x?a=1&b=2",
	}, links)
}

func TestExtractLinks_BadBase(t *testing.T) {
	t.Parallel()
	require.Empty(t, ExtractLinks("http://[::1", []byte(`<a href="/x">`)))
}

func TestResolveLocation(t *testing.T) {
	t.Parallel()
	got, err := resolveLocation("http://example.com/old/page", "/new")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/new", got)

	got, err = resolveLocation("http://example.com/old/page", "https://elsewhere.org/")
	require.NoError(t, err)
	require.Equal(t, "https://elsewhere.org/", got)
}

func TestIsRedirect(t *testing.T) {
	t.Parallel()
	for _, s := range []int{300, 301, 302, 303, 307} {
		require.True(t, isRedirect(s), s)
	}
	for _, s := range []int{200, 304, 308, 404} {
		require.False(t, isRedirect(s), s)
	}
}
