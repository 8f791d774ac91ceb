package notion

import (
	"strings"
	"unicode/utf8"

	"github.com/jomei/notionapi"

	"github.com/njoerd114/transcriptrelay/internal/model"
)

// Notion API limits.
const (
	// richTextLimit is the maximum content length of a single rich text
	// object.
	richTextLimit = 2000

	// maxChildren is the maximum number of blocks accepted in one page
	// creation request.
	maxChildren = 100

	// queryPageSize is the largest page size the query endpoint accepts.
	queryPageSize = 100

	enhancedHeading = "Enhanced Version"
	promptLabel     = "Prompt: "
)

// pageProperties builds the property values for a new page. titleProp is
// the name of the database's title column.
func pageProperties(titleProp string, r *model.RemoteRecord) notionapi.Properties {
	created := notionapi.Date(r.CreatedAt)

	props := notionapi.Properties{
		model.PropertyText.Name(): notionapi.RichTextProperty{
			RichText: richText(truncateRunes(r.Text, richTextLimit)),
		},
		model.PropertyTimestamp.Name(): notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &created},
		},
		model.PropertyDuration.Name(): notionapi.NumberProperty{
			Number: r.Duration,
		},
		model.PropertyDedupKey.Name(): notionapi.RichTextProperty{
			RichText: richText(r.SourceID),
		},
	}
	if titleProp != "" {
		props[titleProp] = notionapi.TitleProperty{
			Title: richText(r.Title),
		}
	}
	return props
}

// pageBlocks renders the page body: the full text as paragraphs, followed by
// the enhanced version under its own heading when present. The enhancement
// prompt is named at the top of that section, or after the text when there is
// no enhanced version. The result never exceeds maxChildren blocks; trailing
// content is dropped.
func pageBlocks(r *model.RemoteRecord) []notionapi.Block {
	var blocks []notionapi.Block
	for _, chunk := range chunkRunes(r.Text, richTextLimit) {
		blocks = append(blocks, paragraph(chunk))
	}

	prompt := strings.TrimSpace(r.PromptName)
	if strings.TrimSpace(r.EnhancedText) != "" {
		blocks = append(blocks, heading(enhancedHeading))
		if prompt != "" {
			blocks = append(blocks, promptLine(prompt))
		}
		for _, chunk := range chunkRunes(r.EnhancedText, richTextLimit) {
			blocks = append(blocks, paragraph(chunk))
		}
	} else if prompt != "" {
		blocks = append(blocks, promptLine(prompt))
	}

	if len(blocks) > maxChildren {
		blocks = blocks[:maxChildren]
	}
	return blocks
}

func paragraph(s string) *notionapi.ParagraphBlock {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeParagraph,
		},
		Paragraph: notionapi.Paragraph{RichText: richText(s)},
	}
}

// promptLine renders "Prompt: <name>" with the label in bold.
func promptLine(name string) *notionapi.ParagraphBlock {
	p := paragraph("")
	p.Paragraph.RichText = []notionapi.RichText{
		{
			Type:        notionapi.ObjectTypeText,
			Text:        &notionapi.Text{Content: promptLabel},
			Annotations: &notionapi.Annotations{Bold: true},
		},
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: truncateRunes(name, richTextLimit-len(promptLabel))},
		},
	}
	return p
}

func heading(s string) *notionapi.Heading2Block {
	return &notionapi.Heading2Block{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeHeading2,
		},
		Heading2: notionapi.Heading{RichText: richText(s)},
	}
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: s},
	}}
}

// propertyConfig returns the column definition used to add p to a database.
func propertyConfig(p model.Property) notionapi.PropertyConfig {
	switch p.Kind() {
	case model.KindDate:
		return notionapi.DatePropertyConfig{Type: notionapi.PropertyConfigTypeDate}
	case model.KindNumber:
		return notionapi.NumberPropertyConfig{
			Type:   notionapi.PropertyConfigTypeNumber,
			Number: notionapi.NumberFormat{Format: notionapi.FormatNumber},
		}
	default:
		return notionapi.RichTextPropertyConfig{Type: notionapi.PropertyConfigTypeRichText}
	}
}

// configType maps a property kind to the Notion column type.
func configType(k model.PropertyKind) notionapi.PropertyConfigType {
	switch k {
	case model.KindDate:
		return notionapi.PropertyConfigTypeDate
	case model.KindNumber:
		return notionapi.PropertyConfigTypeNumber
	default:
		return notionapi.PropertyConfigTypeRichText
	}
}

// titleProperty returns the name of the database's title column, or "" if
// the database has none.
func titleProperty(props notionapi.PropertyConfigs) string {
	for name, cfg := range props {
		if cfg != nil && cfg.GetType() == notionapi.PropertyConfigTypeTitle {
			return name
		}
	}
	return ""
}

// plainText extracts the text of a rich text property value. Pages returned
// by the API carry pointer values; both forms are accepted.
func plainText(prop notionapi.Property) string {
	var parts []notionapi.RichText
	switch p := prop.(type) {
	case *notionapi.RichTextProperty:
		parts = p.RichText
	case notionapi.RichTextProperty:
		parts = p.RichText
	case *notionapi.TitleProperty:
		parts = p.Title
	case notionapi.TitleProperty:
		parts = p.Title
	default:
		return ""
	}

	var b strings.Builder
	for _, rt := range parts {
		switch {
		case rt.PlainText != "":
			b.WriteString(rt.PlainText)
		case rt.Text != nil:
			b.WriteString(rt.Text.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

// chunkRunes splits s into pieces of at most n runes without breaking a
// multi-byte character. Empty input yields no chunks.
func chunkRunes(s string, n int) []string {
	if s == "" || n <= 0 {
		return nil
	}
	var chunks []string
	for len(s) > 0 {
		if utf8.RuneCountInString(s) <= n {
			chunks = append(chunks, s)
			break
		}
		cut, count := 0, 0
		for i := range s {
			if count == n {
				cut = i
				break
			}
			count++
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	return chunks
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return chunkRunes(s, n)[0]
}
