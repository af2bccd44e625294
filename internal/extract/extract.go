// Package extract turns raw search-engine result markup into link tuples.
// Each engine has its own selector strategy; malformed items are skipped so a
// single bad result never aborts the page.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Engine identifies a supported search engine.
type Engine string

// Supported engines.
const (
	EngineBing  Engine = "bing"
	EngineBaidu Engine = "baidu"
)

// unknownSource is the placeholder when a result carries no source markup,
// kept byte-for-byte compatible with downstream consumers.
const unknownSource = "未知来源"

// Result is one link extracted from a result page.
type Result struct {
	Title  string
	Href   string
	Source string
	Engine string
}

// Extractor parses one engine's result markup.
type Extractor interface {
	// Extract returns results in document order. Duplicate hrefs are not
	// deduplicated here; that is a caller concern.
	Extract(html string) ([]Result, error)
}

// ParseEngine validates an engine tag, defaulting empty input to bing.
func ParseEngine(s string) (Engine, error) {
	switch Engine(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return EngineBing, nil
	case EngineBing:
		return EngineBing, nil
	case EngineBaidu:
		return EngineBaidu, nil
	default:
		return "", fmt.Errorf("unsupported engine %q", s)
	}
}

// ForEngine returns the extractor variant for the given engine.
func ForEngine(engine Engine) (Extractor, error) {
	switch engine {
	case EngineBing:
		return bingExtractor{}, nil
	case EngineBaidu:
		return baiduExtractor{}, nil
	default:
		return nil, fmt.Errorf("unsupported engine %q", engine)
	}
}

type bingExtractor struct{}

func (bingExtractor) Extract(html string) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse bing page: %w", err)
	}

	var results []Result
	doc.Find("li.b_algo").Each(func(_ int, item *goquery.Selection) {
		title := item.Find("h2").First()
		link := title.Find("a").First()
		href, ok := link.Attr("href")
		titleText := strings.TrimSpace(title.Text())
		if !ok || href == "" || titleText == "" {
			return
		}
		results = append(results, Result{
			Title:  titleText,
			Href:   href,
			Source: textOrDefault(item.Find("div.tptt").First()),
			Engine: string(EngineBing),
		})
	})
	return results, nil
}

type baiduExtractor struct{}

func (baiduExtractor) Extract(html string) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse baidu page: %w", err)
	}

	var results []Result
	doc.Find("div[class*='result']").Each(func(_ int, item *goquery.Selection) {
		title := firstNonEmpty(
			item.Find("span[class*='tts-title-content']").First(),
			item.Find("h3").First(),
			item.Find("a").First(),
		)
		link := baiduLink(item)
		href, ok := link.Attr("href")
		titleText := strings.TrimSpace(title.Text())
		if !ok || href == "" || titleText == "" {
			return
		}
		results = append(results, Result{
			Title:  titleText,
			Href:   href,
			Source: textOrDefault(firstNonEmpty(
				item.Find("span[class*='source']").First(),
				item.Find("cite").First(),
			)),
			Engine: string(EngineBaidu),
		})
	})
	return results, nil
}

// baiduLink walks the fallback chain of anchor selectors baidu has used
// across markup revisions, preferring outbound links over baidu.com ones.
func baiduLink(item *goquery.Selection) *goquery.Selection {
	link := firstNonEmpty(
		item.Find("a[class*='c-link']").First(),
		item.Find("a[class*='c-showurl'], a[class*='c-color-url']").First(),
		item.Find("a[class*='block']").First(),
	)
	if link.Length() > 0 {
		return link
	}
	outbound := item.Find("a[href]").FilterFunction(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		return !strings.Contains(href, "baidu.com")
	}).First()
	if outbound.Length() > 0 {
		return outbound
	}
	return item.Find("a[href]").First()
}

func firstNonEmpty(selections ...*goquery.Selection) *goquery.Selection {
	for _, s := range selections {
		if s.Length() > 0 {
			return s
		}
	}
	return selections[len(selections)-1]
}

func textOrDefault(s *goquery.Selection) string {
	if text := strings.TrimSpace(s.Text()); text != "" {
		return text
	}
	return unknownSource
}
