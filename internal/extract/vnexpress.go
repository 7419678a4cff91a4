package extract

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// VNExpress returns the vnexpress.net integration.
func VNExpress() *Site {
	return &Site{
		Name:            "vnexpress",
		Source:          "VNExpress",
		BaseURL:         "https://vnexpress.net",
		ListingSelector: ".title-news",
		URLFileSuffix:   "vnx",
		Extractor:       vnexpressExtractor{},
		PageURLFunc: func(category string, page int) string {
			return fmt.Sprintf("https://vnexpress.net/%s-p%d", category, page)
		},
		Categories: map[string]string{
			"thoi-su":    "Thời sự",
			"du-lich":    "Du lịch",
			"the-gioi":   "Thế giới",
			"kinh-doanh": "Kinh doanh",
			"khoa-hoc":   "Khoa học",
			"giai-tri":   "Giải trí",
			"the-thao":   "Thể thao",
			"phap-luat":  "Pháp luật",
			"giao-duc":   "Giáo dục",
			"suc-khoe":   "Sức khỏe",
			"doi-song":   "Đời sống",
		},
	}
}

type vnexpressExtractor struct{}

func (vnexpressExtractor) Extract(body []byte) (*Article, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}

	title := doc.Find("h1.title-detail").First()
	if title.Length() == 0 {
		return nil, false
	}

	// Sport articles nest a location stamp inside the description tag, so
	// the summary is assembled from child fragments rather than flat text.
	summary := ChildFragments(doc.Find("p.description").First())
	paragraphs := SelectionFragments(doc.Find("p.Normal"))

	return &Article{
		Title:   NormalizeWhitespace(title.Text()),
		Summary: JoinFragments(summary),
		Body:    JoinFragments(paragraphs),
	}, true
}
