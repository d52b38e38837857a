package couplet

import (
	"context"
	"net/http"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/spinbot/internal/crawler"
	"github.com/JakeFAU/spinbot/internal/items"
	"github.com/JakeFAU/spinbot/internal/storage/memory"
)

const articlePage = `<html><body><div class="content_zw">
<p><font>春风得意花千树</font><font>旭日生辉福满门</font></p>
<p>天增岁月人增寿
春满乾坤福满楼 横批：万象更新</p>
<p>only one line</p>
<p><font>lonely</font></p>
</div></body></html>`

func TestHandleItemParsesBothLayouts(t *testing.T) {
	t.Parallel()
	store := memory.NewItemStore()
	h := New(store, nil)
	set := crawler.NewItemSet()
	src := "http://www.duiduilian.com/chunlian/1234.html"

	err := h.HandleItem(context.Background(), &crawler.Page{
		URL: src, FinalURL: src, Status: http.StatusOK, Body: []byte(articlePage),
	}, crawler.Metadata{}, set)
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	got := store.Couplets()
	require.ElementsMatch(t, []items.Couplet{
		{First: "春风得意花千树", Second: "旭日生辉福满门", SourceURL: src},
		{First: "天增岁月人增寿", Second: "春满乾坤福满楼", SourceURL: src},
	}, got)
}

func TestPatterns(t *testing.T) {
	t.Parallel()
	route := regexp.MustCompile(RoutePattern)
	allowed := regexp.MustCompile(AllowedPath)
	exclude := regexp.MustCompile(Exclude)

	require.True(t, route.MatchString("http://www.duiduilian.com/chunlian/1234.html"))
	require.False(t, route.MatchString("http://www.duiduilian.com/chunlian/"))
	require.True(t, allowed.MatchString("http://www.duiduilian.com/chunlian/"))
	require.False(t, allowed.MatchString("http://www.duiduilian.com/index.html"))
	require.True(t, exclude.MatchString("http://www.duiduilian.com/zhishi/1.html"))
	require.False(t, exclude.MatchString("http://www.duiduilian.com/chunlian/1.html"))
}
