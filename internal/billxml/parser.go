// Package billxml parses bill XML documents into the section-level shape
// the similarity pipeline indexes, supporting both the USLM2 schema and the
// legacy bill DTD schema. Parsing walks the token stream manually rather
// than unmarshaling into a struct hierarchy, because top-level section
// selection depends on ancestor exclusion and a "withdrawn" status
// attribute that a flat struct tag can't express.
package billxml

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/usbillsim/billsim/internal/billerrs"
)

// NamespaceUSLM is the default namespace of a USLM2-schema bill.
const NamespaceUSLM = "http://schemas.gpo.gov/xml/uslm"

// Section is one top-level, non-withdrawn section of a bill.
type Section struct {
	ID     string
	Number string // "enum" in the legacy DTD, "num" in USLM2
	Header string // "header" in the legacy DTD, "heading" in USLM2
	Text   string
	XML    string
	Length int
}

// Bill is the parsed, indexable representation of a single bill XML file.
type Bill struct {
	Congress    string
	Session     string
	DCTitle     string
	Date        string
	Legisnum    string
	Billnumber  string
	Billversion string
	Headers     []string
	Sections    []Section
	Namespace   string
	// Length is the character count of the raw file contents, independent
	// of how much of the file falls inside an extracted section.
	Length int
}

var trailingLettersPattern = regexp.MustCompile(`[a-zA-Z ]+$`)

// Parse reads and parses the bill XML file at path, detecting whether it
// uses the USLM2 schema or the legacy DTD schema and extracting metadata
// and sections accordingly.
func Parse(path string) (*Bill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("billxml: reading %s: %w", path, err)
	}

	namespace, err := defaultNamespace(data)
	if err != nil {
		return nil, fmt.Errorf("billxml: %s: %w: %v", path, billerrs.ErrParse, err)
	}

	tree, err := buildTree(data)
	if err != nil {
		return nil, fmt.Errorf("billxml: %s: %w: %v", path, billerrs.ErrParse, err)
	}

	bill := &Bill{Namespace: namespace, Length: utf8.RuneCountInString(string(data))}
	if namespace == NamespaceUSLM {
		extractUSLM2Metadata(tree, bill)
	} else {
		extractLegacyMetadata(tree, bill, path)
	}
	bill.Sections = topLevelSections(tree, namespace)

	return bill, nil
}

// defaultNamespace returns the default (unprefixed) xmlns of the document
// root element, or "" for a document with no default namespace.
func defaultNamespace(data []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := decoder.Token()
		if err != nil {
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			for _, attr := range start.Attr {
				if attr.Name.Space == "" && attr.Name.Local == "xmlns" {
					return attr.Value, nil
				}
			}
			return "", nil
		}
	}
}

// node is a minimal in-memory element tree, built so section ancestry and
// raw XML/text slices can be recovered after the fact.
type node struct {
	name     string // local name, namespace stripped
	attrs    map[string]string
	children []*node
	parent   *node
	text     string // concatenated character data of this element only
	rawXML   string
}

// buildTree walks the full token stream once and assembles a node tree,
// capturing each element's raw XML and inner text via byte offsets.
func buildTree(data []byte) (*node, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	var root, current *node
	var offsets []int64

	for {
		offset := decoder.InputOffset()
		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local, attrs: map[string]string{}, parent: current}
			for _, a := range t.Attr {
				n.attrs[a.Name.Local] = a.Value
			}
			if current != nil {
				current.children = append(current.children, n)
			} else {
				root = n
			}
			current = n
			offsets = append(offsets, offset)

		case xml.CharData:
			if current != nil {
				current.text += string(t)
			}

		case xml.EndElement:
			if current == nil {
				continue
			}
			start := offsets[len(offsets)-1]
			offsets = offsets[:len(offsets)-1]
			end := decoder.InputOffset()
			if start >= 0 && end <= int64(len(data)) && end > start {
				current.rawXML = string(data[start:end])
			}
			current = current.parent
		}
	}

	if root == nil {
		return nil, fmt.Errorf("empty document")
	}
	return root, nil
}

// find returns the first descendant of n (depth-first, inclusive of n
// itself) whose local name matches any of names.
func find(n *node, names ...string) *node {
	if n == nil {
		return nil
	}
	for _, name := range names {
		if n.name == name {
			return n
		}
	}
	for _, c := range n.children {
		if found := find(c, names...); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every descendant of n (n itself included) whose local
// name matches any of names, in document order.
func findAll(n *node, names ...string) []*node {
	var out []*node
	var walk func(*node)
	walk = func(cur *node) {
		if cur == nil {
			return
		}
		for _, name := range names {
			if cur.name == name {
				out = append(out, cur)
				break
			}
		}
		for _, c := range cur.children {
			walk(c)
		}
	}
	walk(n)
	return out
}

func trimText(n *node) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.text)
}

// topLevelSections returns every <section> (or <uslm:section>) that is not
// a descendant of another section, and whose status attribute is not
// "withdrawn".
func topLevelSections(root *node, namespace string) []Section {
	var out []Section
	var walk func(n *node, insideSection bool)
	walk = func(n *node, insideSection bool) {
		if n == nil {
			return
		}
		isSection := n.name == "section"
		if isSection && !insideSection {
			if n.attrs["status"] != "withdrawn" {
				out = append(out, buildSection(n, namespace))
			}
			// descend to find nested sections for traversal purposes,
			// but they are excluded from the result by ancestry.
			for _, c := range n.children {
				walk(c, true)
			}
			return
		}
		for _, c := range n.children {
			walk(c, insideSection)
		}
	}
	walk(root, false)
	return out
}

func buildSection(n *node, namespace string) Section {
	var numberNode, headerNode *node
	if namespace == NamespaceUSLM {
		numberNode = find(n, "num")
		headerNode = find(n, "heading")
	} else {
		numberNode = find(n, "enum")
		headerNode = find(n, "header")
	}

	text := strings.TrimSpace(plainText(n))
	return Section{
		ID:     n.attrs["id"],
		Number: trimText(numberNode),
		Header: trimText(headerNode),
		Text:   text,
		XML:    n.rawXML,
		Length: utf8.RuneCountInString(text),
	}
}

// plainText concatenates the character data of n and all its descendants,
// mirroring etree.tostring(section, method="text").
func plainText(n *node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*node)
	walk = func(cur *node) {
		b.WriteString(cur.text)
		for _, c := range cur.children {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func stripTrailingLetters(s string) string {
	return trailingLettersPattern.ReplaceAllString(s, "")
}

func extractUSLM2Metadata(root *node, bill *Bill) {
	meta := find(root, "meta")
	congress := find(meta, "congress")
	session := find(meta, "session")
	bill.Congress = stripTrailingLetters(trimText(congress))
	bill.Session = stripTrailingLetters(trimText(session))
	bill.DCTitle = trimText(find(meta, "title"))
	bill.Date = trimText(find(meta, "date"))

	preface := find(root, "preface")
	docType := find(preface, "type")
	docNumber := find(preface, "docNumber")
	if docType != nil && docNumber != nil {
		bill.Legisnum = strings.TrimSpace(trimText(docType) + " " + trimText(docNumber))
	}

	for _, h := range findAll(root, "heading") {
		bill.Headers = appendUnique(bill.Headers, trimText(h))
	}
}

func extractLegacyMetadata(root *node, bill *Bill, filePath string) {
	form := find(root, "form")
	congress := find(form, "congress")
	session := find(form, "session")
	bill.Congress = stripTrailingLetters(trimText(congress))
	bill.Session = stripTrailingLetters(trimText(session))
	bill.Legisnum = trimText(find(root, "legis-num"))

	dublinCore := find(root, "dublinCore")
	bill.DCTitle = trimText(find(dublinCore, "title"))
	bill.Date = trimText(find(dublinCore, "date"))

	if bill.Date == "" {
		bill.Date = dateFromSidecar(filePath)
	}

	for _, h := range findAll(root, "header") {
		bill.Headers = appendUnique(bill.Headers, trimText(h))
	}
}

// dateFromSidecar falls back to the issued_on field of the sibling
// data.json file, for legacy bills whose dublinCore carries no date.
func dateFromSidecar(xmlPath string) string {
	sidecar := filepath.Join(filepath.Dir(xmlPath), "data.json")
	raw, err := os.ReadFile(sidecar)
	if err != nil {
		return ""
	}
	var meta struct {
		IssuedOn string `json:"issued_on"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ""
	}
	return meta.IssuedOn
}

func appendUnique(headers []string, h string) []string {
	if h == "" {
		return headers
	}
	for _, existing := range headers {
		if existing == h {
			return headers
		}
	}
	return append(headers, h)
}
