package extract

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// DanTri returns the dantri.com.vn integration.
func DanTri() *Site {
	return &Site{
		Name:            "dantri",
		Source:          "Dantri",
		BaseURL:         "https://dantri.com.vn",
		ListingSelector: ".article-title",
		Extractor:       dantriExtractor{},
		PageURLFunc: func(category string, page int) string {
			return fmt.Sprintf("https://dantri.com.vn/%s/trang-%d.htm", category, page)
		},
		Categories: map[string]string{
			"doi-song":         "Đời sống",
			"the-gioi":         "Thế giới",
			"kinh-doanh":       "Kinh doanh",
			"bat-dong-san":     "Bất động sản",
			"the-thao":         "Thể thao",
			"noi-vu":           "Nội vụ",
			"tam-long-nhan-ai": "Tấm lòng nhân ái",
			"suc-khoe":         "Sức khỏe",
			"cong-nghe":        "Công nghệ",
			"giai-tri":         "Giải trí",
			"thoi-su":          "Thời sự",
			"giao-duc":         "Giáo dục",
			"du-lich":          "Du lịch",
		},
	}
}

type dantriExtractor struct{}

func (dantriExtractor) Extract(body []byte) (*Article, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}

	title := doc.Find("h1.title-page.detail").First()
	if title.Length() == 0 {
		return nil, false
	}

	summary := ChildFragments(doc.Find("h2.singular-sapo").First())
	paragraphs := SelectionFragments(doc.Find("div.singular-content").First().Find("p"))

	return &Article{
		Title:   NormalizeWhitespace(title.Text()),
		Summary: JoinFragments(summary),
		Body:    JoinFragments(paragraphs),
	}, true
}
