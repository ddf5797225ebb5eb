// Package security は外部コンテンツの無害化と外向き通信の制限を提供する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer は外部から受け取ったテキストを無害化する。
type Sanitizer interface {
	// PlainText は全てのHTMLタグを除去し、文字参照を戻したプレーンテキストを返す。
	// チャットの発話や記事タイトルに使う。
	PlainText(raw string) string

	// Summary は記事要約向けに限られたタグのみを残したHTMLを返す。
	// リンクには target="_blank" と rel="noopener noreferrer" を付与する。
	Summary(raw string) string
}

// ContentSanitizer はbluemondayのポリシーによるSanitizerの実装。
// ポリシーはスレッドセーフなので共有してよい。
type ContentSanitizer struct {
	strict  *bluemonday.Policy
	summary *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
func NewContentSanitizer() *ContentSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AllowURLSchemeWithCustomPolicy("https", func(*url.URL) bool { return true })

	return &ContentSanitizer{
		strict:  bluemonday.StrictPolicy(),
		summary: p,
	}
}

// PlainText はSanitizerを実装する。
func (s *ContentSanitizer) PlainText(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}

// Summary はSanitizerを実装する。
func (s *ContentSanitizer) Summary(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(s.summary.Sanitize(raw))
}

var _ Sanitizer = (*ContentSanitizer)(nil)
