package render

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
)

var (
	doctypePattern  = regexp.MustCompile(`^DOCTYPE\s+(\S+)\s*\[([\s\S]*)\]\s*$`)
	rootDeclPattern = regexp.MustCompile(`<!ELEMENT\s+(\S+)\s+\(\s*(\S+?)\s*\)\*\s*>`)
	rowDeclPattern  = regexp.MustCompile(`<!ELEMENT\s+(\S+)\s+EMPTY\s*>`)
	attlistPattern  = regexp.MustCompile(`<!ATTLIST\s+(\S+)([^>]*)>`)
	attrDeclPattern = regexp.MustCompile(`(\S+)\s+CDATA\s+#REQUIRED`)
)

// documentType is the subset of DTD that BuildDTD emits.
type documentType struct {
	root       string
	row        string
	attributes []string
}

// ValidateXML parses a rendered document and checks it against its own
// inline DTD: the root element and its name, rows as the only children, rows
// without content, and every row carrying exactly the declared attributes.
func ValidateXML(body []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.Strict = true
	decoder.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		enc, err := ianaindex.IANA.Encoding(label)
		if err != nil {
			return nil, err
		}
		if enc == nil {
			return nil, fmt.Errorf("charset %q is not supported", label)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var (
		dtd      *documentType
		depth    int
		seenRoot bool
		rows     int
	)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("parse document: %w", err)
		}

		switch t := token.(type) {
		case xml.Directive:
			if dtd != nil || seenRoot {
				return fmt.Errorf("unexpected directive")
			}
			parsed, err := parseDocumentType(string(t))
			if err != nil {
				return err
			}
			dtd = &parsed
		case xml.StartElement:
			if dtd == nil {
				return fmt.Errorf("document has no DOCTYPE")
			}
			switch depth {
			case 0:
				if seenRoot {
					return fmt.Errorf("more than one root element")
				}
				if t.Name.Local != dtd.root {
					return fmt.Errorf("root element %q, DOCTYPE declares %q", t.Name.Local, dtd.root)
				}
				if len(t.Attr) > 0 {
					return fmt.Errorf("root element %q has undeclared attributes", t.Name.Local)
				}
				seenRoot = true
			case 1:
				if t.Name.Local != dtd.row {
					return fmt.Errorf("element %q not allowed in %q", t.Name.Local, dtd.root)
				}
				if err := checkAttributes(dtd, t.Attr); err != nil {
					return fmt.Errorf("row %d: %w", rows, err)
				}
				rows++
			default:
				return fmt.Errorf("element %q must be empty", dtd.row)
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 2 {
				return fmt.Errorf("element %q must be empty", dtd.row)
			}
			if depth == 1 && len(bytes.TrimSpace(t)) > 0 {
				return fmt.Errorf("text not allowed in %q", dtd.root)
			}
		}
	}
	if !seenRoot {
		return fmt.Errorf("document has no root element")
	}
	return nil
}

func parseDocumentType(directive string) (documentType, error) {
	match := doctypePattern.FindStringSubmatch(strings.TrimSpace(directive))
	if match == nil {
		return documentType{}, fmt.Errorf("unsupported directive %q", directive)
	}
	dtd := documentType{root: match[1]}
	subset := match[2]

	rootDecl := rootDeclPattern.FindStringSubmatch(subset)
	if rootDecl == nil || rootDecl[1] != dtd.root {
		return documentType{}, fmt.Errorf("DOCTYPE does not declare root element %q", dtd.root)
	}
	dtd.row = rootDecl[2]

	rowDecl := rowDeclPattern.FindStringSubmatch(subset)
	if rowDecl == nil || rowDecl[1] != dtd.row {
		return documentType{}, fmt.Errorf("DOCTYPE does not declare %q as EMPTY", dtd.row)
	}

	for _, attlist := range attlistPattern.FindAllStringSubmatch(subset, -1) {
		if attlist[1] != dtd.row {
			return documentType{}, fmt.Errorf("ATTLIST for undeclared element %q", attlist[1])
		}
		for _, decl := range attrDeclPattern.FindAllStringSubmatch(attlist[2], -1) {
			dtd.attributes = append(dtd.attributes, decl[1])
		}
	}
	return dtd, nil
}

func checkAttributes(dtd *documentType, attrs []xml.Attr) error {
	present := make(map[string]int, len(attrs))
	for _, attr := range attrs {
		present[attr.Name.Local]++
	}
	for _, name := range dtd.attributes {
		if present[name] == 0 {
			return fmt.Errorf("missing required attribute %q", name)
		}
		if present[name] > 1 {
			return fmt.Errorf("attribute %q repeated", name)
		}
	}
	if len(attrs) != len(dtd.attributes) {
		return fmt.Errorf("%d attributes, %d declared", len(attrs), len(dtd.attributes))
	}
	return nil
}
