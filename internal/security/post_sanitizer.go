// Package security は記事本文のHTMLサニタイズを提供する。
//
// 記事本文は軽量なHTMLを許可する。表示時とRSS出力時にbluemondayの
// 許可リストポリシーを通し、許可されたタグと属性のみを出力する。
package security

import (
	"html"
	"html/template"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// httpsURL はimgのsrcに許可するURLの形式。
var httpsURL = regexp.MustCompile(`^https://[^\s"']+$`)

// PostSanitizer は記事本文をサニタイズする。
// bluemondayのポリシーはスレッドセーフのため、1インスタンスを共有してよい。
type PostSanitizer struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewPostSanitizer はPostSanitizerを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, img
//   - aのhref: 相対URLを含めて許可し、rel="nofollow noreferrer"を付与
//   - imgのsrc: httpsスキームのみ
func NewPostSanitizer() *PostSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(true)
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AllowURLSchemes("http", "https", "mailto")

	p.AllowAttrs("alt").OnElements("img")
	p.AllowAttrs("src").Matching(httpsURL).OnElements("img")

	return &PostSanitizer{
		policy: p,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize は記事本文をサニタイズしたHTML文字列を返す。
func (s *PostSanitizer) Sanitize(body string) string {
	return s.policy.Sanitize(body)
}

// RenderBody はテンプレートにそのまま埋め込めるサニタイズ済みHTMLを返す。
// 改行は<br>に変換する。
func (s *PostSanitizer) RenderBody(body string) template.HTML {
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	withBreaks := strings.ReplaceAll(normalized, "\n", "<br>")
	return template.HTML(s.policy.Sanitize(withBreaks))
}

// PlainText は全てのタグを除去したテキストを返す。
// StrictPolicyがエスケープした文字実体参照は元に戻す。
func (s *PostSanitizer) PlainText(body string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(body)))
}
