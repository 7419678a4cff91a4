package extract

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// VietnamNet returns the vietnamnet.vn integration.
func VietnamNet() *Site {
	return &Site{
		Name:            "vietnamnet",
		Source:          "VietnamNet",
		BaseURL:         "https://vietnamnet.vn",
		ListingSelector: ".horizontalPost__main-title, .vnn-title, .title-bold",
		URLFileSuffix:   "vnnet",
		Extractor:       vietnamnetExtractor{},
		PageURLFunc: func(category string, page int) string {
			return fmt.Sprintf("https://vietnamnet.vn/%s-page%d", category, page)
		},
		Categories: map[string]string{
			"thoi-su":                "Thời sự",
			"kinh-doanh":             "Kinh doanh",
			"the-thao":               "Thể thao",
			"van-hoa":                "Văn hóa",
			"giai-tri":               "Giải trí",
			"the-gioi":               "Thế giới",
			"doi-song":               "Đời sống",
			"giao-duc":               "Giáo dục",
			"suc-khoe":               "Sức khỏe",
			"thong-tin-truyen-thong": "Thông tin truyền thông",
			"phap-luat":              "Pháp luật",
			"oto-xe-may":             "Oto xe máy",
			"bat-dong-san":           "Bất động sản",
			"du-lich":                "Du lịch",
		},
	}
}

type vietnamnetExtractor struct{}

// vietnamnet requires title, sapo, and content wrapper to all be present;
// pages missing any of them are galleries or videos, not articles.
func (vietnamnetExtractor) Extract(body []byte) (*Article, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}

	title := doc.Find("h1.content-detail-title").First()
	sapo := doc.Find("h2.content-detail-sapo, h2.sm-sapo-mb-0").First()
	content := doc.Find("div.maincontent, div.main-content").First()
	if title.Length() == 0 || sapo.Length() == 0 || content.Length() == 0 {
		return nil, false
	}

	summary := ChildFragments(sapo)
	paragraphs := SelectionFragments(content.Find("p"))

	return &Article{
		Title:   NormalizeWhitespace(title.Text()),
		Summary: JoinFragments(summary),
		Body:    JoinFragments(paragraphs),
	}, true
}
