package render

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/sqldump/sqldump/internal/catalog"
	"github.com/sqldump/sqldump/internal/query"
)

const (
	FormatXML      = "xml"
	DefaultCharset = "UTF-8"
)

// XMLSerializer writes a root element holding one empty row element per
// row, with column values as attributes in column order. The document starts
// with an XML declaration and an inline DTD describing exactly those
// attributes. Names and values that cannot be carried in Charset fail the
// render instead of being replaced.
type XMLSerializer struct {
	// Charset is an IANA name; empty means UTF-8.
	Charset string
	// Pretty indents rows. Useful for reading, not for production.
	Pretty bool
}

func (s XMLSerializer) Render(rs query.ResultSet, rootTag, rowTag string) ([]byte, error) {
	enc, charset, err := lookupCharset(s.Charset)
	if err != nil {
		return nil, &SerializationError{Format: FormatXML, Err: err}
	}
	if err := checkName(rootTag); err != nil {
		return nil, serializationErrorf(FormatXML, "root tag: %w", err)
	}
	if err := checkName(rowTag); err != nil {
		return nil, serializationErrorf(FormatXML, "row tag: %w", err)
	}
	for _, column := range rs.Columns {
		if err := checkName(column); err != nil {
			return nil, serializationErrorf(FormatXML, "column: %w", err)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="` + charset + `"?>` + "\n")
	buf.WriteString(BuildDTD(rootTag, rowTag, rs.Columns))
	buf.WriteByte('\n')

	encoder := xml.NewEncoder(&buf)
	if s.Pretty {
		encoder.Indent("", "  ")
	}
	root := xml.StartElement{Name: xml.Name{Local: rootTag}}
	if err := encoder.EncodeToken(root); err != nil {
		return nil, &SerializationError{Format: FormatXML, Err: err}
	}
	for i, row := range rs.Rows {
		start := xml.StartElement{Name: xml.Name{Local: rowTag}, Attr: make([]xml.Attr, len(row))}
		for j, value := range row {
			text, err := FormatValue(value)
			if err != nil {
				return nil, serializationErrorf(FormatXML, "row %d column %q: %w", i, rs.Columns[j], err)
			}
			if err := checkChars(text); err != nil {
				return nil, serializationErrorf(FormatXML, "row %d column %q: %w", i, rs.Columns[j], err)
			}
			start.Attr[j] = xml.Attr{Name: xml.Name{Local: rs.Columns[j]}, Value: text}
		}
		if err := encoder.EncodeToken(start); err != nil {
			return nil, &SerializationError{Format: FormatXML, Err: err}
		}
		if err := encoder.EncodeToken(start.End()); err != nil {
			return nil, &SerializationError{Format: FormatXML, Err: err}
		}
	}
	if err := encoder.EncodeToken(root.End()); err != nil {
		return nil, &SerializationError{Format: FormatXML, Err: err}
	}
	if err := encoder.Flush(); err != nil {
		return nil, &SerializationError{Format: FormatXML, Err: err}
	}

	if enc == nil {
		return buf.Bytes(), nil
	}
	out, err := enc.NewEncoder().Bytes(buf.Bytes())
	if err != nil {
		return nil, serializationErrorf(FormatXML, "encode as %s: %w", charset, err)
	}
	return out, nil
}

// CheckCharset reports whether name can label a rendered XML document.
func CheckCharset(name string) error {
	_, _, err := lookupCharset(name)
	return err
}

// asciiMarkup covers the bytes an XML declaration and markup are written in.
var asciiMarkup = func() []byte {
	b := []byte{'\t', '\n', '\r'}
	for c := byte(0x20); c < 0x7f; c++ {
		b = append(b, c)
	}
	return b
}()

// lookupCharset resolves an IANA charset name to its encoding and preferred
// MIME name. The returned encoding is nil for UTF-8, which needs no
// transcoding. Charsets that do not encode ASCII as itself are rejected: the
// declaration is written in ASCII before the charset is known to a reader.
func lookupCharset(name string) (encoding.Encoding, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, DefaultCharset, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, "", fmt.Errorf("unknown charset %q: %w", name, err)
	}
	if enc == nil {
		return nil, "", fmt.Errorf("charset %q is not supported", name)
	}
	canonical, err := ianaindex.MIME.Name(enc)
	if err != nil || canonical == "" {
		if canonical, err = ianaindex.IANA.Name(enc); err != nil {
			canonical = name
		}
	}
	if strings.EqualFold(canonical, DefaultCharset) {
		return nil, DefaultCharset, nil
	}
	encoded, err := enc.NewEncoder().Bytes(asciiMarkup)
	if err != nil || !bytes.Equal(encoded, asciiMarkup) {
		return nil, "", fmt.Errorf("charset %q is not ASCII compatible", name)
	}
	return enc, canonical, nil
}

func checkName(name string) error {
	return catalog.CheckXMLName(name)
}

// checkChars rejects text containing characters XML 1.0 cannot carry, even
// as character references.
func checkChars(text string) error {
	for i, r := range text {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(text[i:]); size == 1 {
				return fmt.Errorf("invalid UTF-8 at byte %d", i)
			}
		}
		if !isXMLChar(r) {
			return fmt.Errorf("character %U at byte %d is not allowed in XML", r, i)
		}
	}
	return nil
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}
