package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// Parse reads cleaned feed bytes into a generic element tree and returns the
// document root. The decoder runs in non-strict mode with the HTML entity
// table, so unknown entities do not abort the run; the declared charset
// (often ISO-8859-1 for vendor exports) is honoured. HTML auto-close rules
// are not applied: vendor elements such as <link> or <area> carry text.
func Parse(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel

	var (
		root  *Node
		stack []*Node
		texts []*strings.Builder
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newParseError(dec, data, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &Node{Name: t.Name.Local}
			if len(t.Attr) > 0 {
				node.Attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					node.Attrs[a.Name.Local] = a.Value
				}
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, newParseError(dec, data, errors.New("multiple root elements"))
				}
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
			texts = append(texts, &strings.Builder{})

		case xml.CharData:
			if len(texts) > 0 {
				texts[len(texts)-1].Write(t)
			}

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, newParseError(dec, data, fmt.Errorf("unexpected end element </%s>", t.Name.Local))
			}
			top := len(stack) - 1
			stack[top].Value = strings.TrimSpace(texts[top].String())
			stack, texts = stack[:top], texts[:top]
		}
	}

	if root == nil {
		return nil, newParseError(dec, data, errors.New("document has no root element"))
	}
	if len(stack) > 0 {
		return nil, newParseError(dec, data, fmt.Errorf("unexpected end of document inside <%s>", stack[len(stack)-1].Name))
	}
	return root, nil
}

func newParseError(dec *xml.Decoder, data []byte, err error) *ParseError {
	line, _ := dec.InputPos()
	offset := dec.InputOffset()
	return &ParseError{
		Line:    line,
		Offset:  offset,
		Excerpt: Excerpt(data, offset),
		Err:     err,
	}
}

// Feed is a parsed document whose root and ad elements have been checked.
type Feed struct {
	Root *Node
	ads  []*Node
}

// NewFeed validates the document shape: a root called rootName (any name
// when empty) holding at least one adName child.
func NewFeed(root *Node, rootName, adName string) (*Feed, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidFeedFormat)
	}
	if rootName != "" && root.Name != rootName {
		return nil, fmt.Errorf("%w: root element <%s>, want <%s>", ErrInvalidFeedFormat, root.Name, rootName)
	}
	ads := root.All(adName)
	if len(ads) == 0 {
		return nil, fmt.Errorf("%w: no <%s> elements under <%s>", ErrInvalidFeedFormat, adName, root.Name)
	}
	return &Feed{Root: root, ads: ads}, nil
}

// Ads returns the ad elements in document order. A single ad is still a
// one-element slice.
func (f *Feed) Ads() []*Node {
	return f.ads
}
