package task

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spidercast/spidercast/internal/extract"
)

func TestBuildSearchURLBing(t *testing.T) {
	t.Parallel()

	url := BuildSearchURL([]string{"golang", "tutorial"}, 1, extract.EngineBing)
	assert.Equal(t, "https://cn.bing.com/search?q=golang+tutorial&first=1", url)

	url = BuildSearchURL([]string{"golang"}, 3, extract.EngineBing)
	assert.Equal(t, "https://cn.bing.com/search?q=golang&first=21", url)
}

func TestBuildSearchURLBaidu(t *testing.T) {
	t.Parallel()

	url := BuildSearchURL([]string{"电影"}, 1, extract.EngineBaidu)
	assert.Equal(t, "https://www.baidu.com/s?ie=utf-8&f=8&rsv_bp=1&rsv_idx=1&tn=baidu&wd=%E7%94%B5%E5%BD%B1&pn=0", url)

	url = BuildSearchURL([]string{"电影"}, 2, extract.EngineBaidu)
	assert.Equal(t, "https://www.baidu.com/s?ie=utf-8&f=8&rsv_bp=1&rsv_idx=1&tn=baidu&wd=%E7%94%B5%E5%BD%B1&pn=10", url)
}

func TestBuildSearchURLEmptyKeywords(t *testing.T) {
	t.Parallel()

	assert.Empty(t, BuildSearchURL(nil, 1, extract.EngineBing))
}
