// Package bodyquery extracts values from captured or replayed HTTP bodies
// with jq, CSS selectors, XPath, regular expressions or form keys.
package bodyquery

import (
	"bytes"
	"mime"
	"strings"
	"unicode/utf8"
)

// Kind is the broad format of a body.
type Kind string

const (
	KindJSON   Kind = "json"
	KindHTML   Kind = "html"
	KindXML    Kind = "xml"
	KindYAML   Kind = "yaml"
	KindForm   Kind = "form"
	KindText   Kind = "text"
	KindBinary Kind = "binary"
)

// Classify determines the format of a body from its content type, sniffing
// the body itself when the header is missing or generic.
func Classify(contentType string, body []byte) Kind {
	if k, ok := fromMediaType(contentType); ok {
		return k
	}
	return sniff(body)
}

func fromMediaType(contentType string) (Kind, bool) {
	if strings.TrimSpace(contentType) == "" {
		return "", false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch {
	case strings.Contains(mt, "json"):
		return KindJSON, true
	case mt == "text/html" || mt == "application/xhtml+xml":
		return KindHTML, true
	case strings.Contains(mt, "xml"):
		return KindXML, true
	case strings.Contains(mt, "yaml"):
		return KindYAML, true
	case mt == "application/x-www-form-urlencoded":
		return KindForm, true
	case mt == "text/plain" || mt == "application/octet-stream":
		// Often mislabeled; let the body decide
		return "", false
	case strings.HasPrefix(mt, "text/"), strings.Contains(mt, "javascript"):
		return KindText, true
	case strings.HasPrefix(mt, "image/"), strings.HasPrefix(mt, "audio/"),
		strings.HasPrefix(mt, "video/"), strings.Contains(mt, "pdf"),
		strings.Contains(mt, "zip"), strings.Contains(mt, "protobuf"):
		return KindBinary, true
	}
	return "", false
}

func sniff(body []byte) Kind {
	if !utf8.Valid(body) {
		return KindBinary
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return KindText
	}
	switch trimmed[0] {
	case '{', '[':
		return KindJSON
	case '<':
		head := strings.ToLower(string(trimmed[:min(len(trimmed), 256)]))
		if strings.Contains(head, "<!doctype html") || strings.Contains(head, "<html") {
			return KindHTML
		}
		return KindXML
	}
	return KindText
}

// DefaultMode picks the query language for a body kind.
func DefaultMode(k Kind) Mode {
	switch k {
	case KindJSON, KindYAML:
		return ModeJQ
	case KindHTML:
		return ModeCSS
	case KindXML:
		return ModeXPath
	case KindForm:
		return ModeForm
	default:
		return ModeRegex
	}
}
