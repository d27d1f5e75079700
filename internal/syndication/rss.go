// Package syndication は記事一覧のRSS 2.0フィードを生成する。
package syndication

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/hitoshi/blogman/internal/model"
)

const (
	dublinCoreNS = "http://purl.org/dc/elements/1.1/"
	contentNS    = "http://purl.org/rss/1.0/modules/content/"
)

// summaryRunes はdescriptionに載せる本文要約の最大文字数。
const summaryRunes = 200

// Channel はフィード全体のメタデータ。
type Channel struct {
	Title       string
	Description string
	BaseURL     string // 末尾のスラッシュは無視される
}

// BodyRenderer は記事本文をフィード用に変換する。
type BodyRenderer interface {
	// Sanitize は許可リストを通したHTMLを返す。content:encodedに使う。
	Sanitize(body string) string
	// PlainText はタグを除去したテキストを返す。descriptionの要約に使う。
	PlainText(body string) string
}

// WriteRSS は記事一覧をRSS 2.0形式でwに書き出す。
// postsは表示順（新しい順）に並んでいる前提で、その順序を保持する。
func WriteRSS(w io.Writer, ch Channel, posts []*model.Post, renderer BodyRenderer) error {
	doc := BuildRSS(ch, posts, renderer)
	doc.Indent(2)
	if _, err := doc.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write rss: %w", err)
	}
	return nil
}

// BuildRSS は記事一覧からRSS 2.0のXMLドキュメントを構築する。
func BuildRSS(ch Channel, posts []*model.Post, renderer BodyRenderer) *etree.Document {
	baseURL := strings.TrimRight(ch.BaseURL, "/")

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	rss := doc.CreateElement("rss")
	rss.CreateAttr("version", "2.0")
	rss.CreateAttr("xmlns:dc", dublinCoreNS)
	rss.CreateAttr("xmlns:content", contentNS)

	channel := rss.CreateElement("channel")
	channel.CreateElement("title").SetText(ch.Title)
	channel.CreateElement("link").SetText(baseURL + "/")
	channel.CreateElement("description").SetText(ch.Description)
	if len(posts) > 0 {
		channel.CreateElement("lastBuildDate").SetText(posts[0].Created.UTC().Format(time.RFC1123Z))
	}

	for _, p := range posts {
		item := channel.CreateElement("item")
		item.CreateElement("title").SetText(p.Title)
		item.CreateElement("link").SetText(fmt.Sprintf("%s/#post-%d", baseURL, p.ID))

		guid := item.CreateElement("guid")
		guid.CreateAttr("isPermaLink", "false")
		guid.SetText(fmt.Sprintf("%s/posts/%d", baseURL, p.ID))

		item.CreateElement("dc:creator").SetText(p.AuthorUsername)
		item.CreateElement("pubDate").SetText(p.Created.UTC().Format(time.RFC1123Z))
		item.CreateElement("description").SetText(summarize(renderer.PlainText(p.Body)))
		item.CreateElement("content:encoded").SetCData(renderer.Sanitize(p.Body))
	}

	return doc
}

// summarize はtextをsummaryRunes文字までに切り詰める。
func summarize(text string) string {
	runes := []rune(text)
	if len(runes) <= summaryRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:summaryRunes])) + "…"
}
