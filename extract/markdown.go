package extract

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

var (
	mdConverter = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	// Scripts, handlers and iframes are stripped before conversion.
	sanitizer = bluemonday.UGCPolicy()
)

// Markdown renders rawHTML as markdown with links resolved against baseURL.
func Markdown(rawHTML, baseURL string) (string, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return "", ErrEmptyDocument
	}
	clean := sanitizer.Sanitize(rawHTML)
	md, err := mdConverter.ConvertString(clean, converter.WithDomain(baseURL))
	if err != nil {
		return "", fmt.Errorf("extract: markdown: %w", err)
	}
	return strings.TrimSpace(md), nil
}
