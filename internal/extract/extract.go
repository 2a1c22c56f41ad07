// Package extract pulls candidate interface-definition blocks out of
// fetched page content before they reach the grammar parser.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"idlharvest/internal/idl"
)

// DefaultSelectors match the markup conventions spec documents use for
// inline IDL listings, most specific first.
var DefaultSelectors = []string{
	"pre.idl",
	"pre code.idl",
	"pre.extract",
	"pre code",
}

// Extractor narrows a page to the text blocks worth parsing.
type Extractor struct {
	selectors []string
}

// New builds an Extractor; empty selectors fall back to DefaultSelectors.
func New(selectors []string) *Extractor {
	if len(selectors) == 0 {
		selectors = DefaultSelectors
	}
	return &Extractor{selectors: selectors}
}

// Blocks returns candidate IDL text blocks from content. HTML pages yield
// the text of the first selector that matches anything; non-HTML content
// (or pages with no matching markup) yields the whole document as a single
// block, leaving the "not IDL" call to the parser.
func (e *Extractor) Blocks(content []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return wholeBlock(content)
	}
	for _, selector := range e.selectors {
		var blocks []string
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			text := strings.TrimSpace(sel.Text())
			if text != "" {
				blocks = append(blocks, text)
			}
		})
		if len(blocks) > 0 {
			return blocks
		}
	}
	return wholeBlock(content)
}

func wholeBlock(content []byte) []string {
	text := strings.TrimSpace(string(content))
	if text == "" {
		return nil
	}
	return []string{text}
}

// BlockParser is the standalone stand-in for the external WebIDL grammar
// parser: each block that looks like IDL becomes one opaque fragment
// wrapping its source text. Real deployments swap in the grammar parser
// behind the same idl.Parser contract.
type BlockParser struct{}

// idlMarkers are tokens a WebIDL fragment opens with.
var idlMarkers = []string{
	"interface ",
	"partial interface ",
	"dictionary ",
	"enum ",
	"typedef ",
	"callback ",
	"namespace ",
	"partial namespace ",
	"partial dictionary ",
}

// Parse classifies content and emits one fragment per IDL-looking block.
// Content with no marker is "not IDL" and yields zero fragments.
func (BlockParser) Parse(content []byte) ([]idl.Fragment, error) {
	text := strings.TrimSpace(string(content))
	if text == "" {
		return nil, nil
	}
	trimmed := strings.TrimPrefix(text, "[")
	looksLikeIDL := false
	for _, marker := range idlMarkers {
		if strings.Contains(trimmed, marker) {
			looksLikeIDL = true
			break
		}
	}
	if !looksLikeIDL {
		return nil, nil
	}
	fragment, err := json.Marshal(map[string]string{"idl": text})
	if err != nil {
		return nil, fmt.Errorf("encode fragment: %w", err)
	}
	return []idl.Fragment{fragment}, nil
}
