package bodyquery

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// queryCSS collects the trimmed text of every element matching selector.
// Elements with no text are skipped.
func queryCSS(c *collector, body []byte, selector string) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parsing HTML: %w", err)
	}
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return true
		}
		return c.add(text)
	})
	return nil
}

// queryXPath evaluates expr against an HTML or XML document. Element results
// yield their trimmed inner text, attributes their value, and scalar
// expressions such as count() a single value.
func queryXPath(c *collector, body []byte, kind Kind, expr string) error {
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid XPath expression: %w", err)
	}

	if kind == KindHTML {
		doc, err := htmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("parsing HTML: %w", err)
		}
		nav := htmlquery.CreateXPathNavigator(doc)
		collectXPath(c, compiled.Evaluate(nav), func(n xpath.NodeNavigator) string {
			return htmlquery.InnerText(n.(*htmlquery.NodeNavigator).Current())
		})
		return nil
	}

	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parsing XML: %w", err)
	}
	nav := xmlquery.CreateXPathNavigator(doc)
	collectXPath(c, compiled.Evaluate(nav), func(n xpath.NodeNavigator) string {
		return n.(*xmlquery.NodeNavigator).Current().InnerText()
	})
	return nil
}

func collectXPath(c *collector, result any, text func(xpath.NodeNavigator) string) {
	iter, ok := result.(*xpath.NodeIterator)
	if !ok {
		c.add(result)
		return
	}
	for iter.MoveNext() {
		n := iter.Current()
		raw := n.Value()
		if n.NodeType() != xpath.AttributeNode {
			raw = text(n)
		}
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		if !c.add(v) {
			return
		}
	}
}
