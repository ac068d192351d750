package render

import "strings"

// BuildDTD returns the DOCTYPE declaration for a document whose root holds any
// number of empty row elements, each carrying every column as a required
// attribute. Attribute lines follow column order. Without columns the
// ATTLIST declaration is left out.
func BuildDTD(rootTag, rowTag string, columns []string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE ")
	b.WriteString(rootTag)
	b.WriteString(" [\n <!ELEMENT ")
	b.WriteString(rootTag)
	b.WriteString(" (")
	b.WriteString(rowTag)
	b.WriteString(")*>\n <!ELEMENT ")
	b.WriteString(rowTag)
	b.WriteString(" EMPTY>\n")
	if len(columns) > 0 {
		b.WriteString(" <!ATTLIST ")
		b.WriteString(rowTag)
		b.WriteByte('\n')
		for _, column := range columns {
			b.WriteString("  ")
			b.WriteString(column)
			b.WriteString(" CDATA #REQUIRED\n")
		}
		b.WriteString(" >\n")
	}
	b.WriteString("]>")
	return b.String()
}
