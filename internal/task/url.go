package task

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spidercast/spidercast/internal/extract"
)

// BuildSearchURL returns the result-page URL for the given 1-based page
// number. Keywords are percent-encoded individually and joined with '+'.
func BuildSearchURL(keywords []string, pageNo int, engine extract.Engine) string {
	if len(keywords) == 0 {
		return ""
	}
	encoded := make([]string, len(keywords))
	for i, kw := range keywords {
		encoded[i] = url.QueryEscape(kw)
	}
	query := strings.Join(encoded, "+")

	switch engine {
	case extract.EngineBaidu:
		pn := 0
		if pageNo > 1 {
			pn = (pageNo - 1) * 10
		}
		return fmt.Sprintf("https://www.baidu.com/s?ie=utf-8&f=8&rsv_bp=1&rsv_idx=1&tn=baidu&wd=%s&pn=%d", query, pn)
	default:
		first := 1
		if pageNo > 1 {
			first = (pageNo-1)*10 + 1
		}
		return fmt.Sprintf("https://cn.bing.com/search?q=%s&first=%d", query, first)
	}
}
