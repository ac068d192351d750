// Package negotiate ranks the media ranges a client declares in an Accept
// header.
//
// Ranking is two consecutive stable sorts, first by descending quality and
// then by ascending specificity, so among entries of equal specificity the
// higher quality wins and ties keep the order the client wrote them in.
// Parsing is lenient: a malformed entry is kept with quality 1.0 rather than
// failing the request.
package negotiate

import (
	"slices"
	"strconv"
	"strings"
	"unicode"
)

const (
	specificityExact = iota
	specificityType
	specificityAny
)

// MediaRange is one parsed Accept entry.
type MediaRange struct {
	Type    string
	Subtype string
	Quality float64
	// Range is the entry with its parameters stripped, e.g. "text/*".
	Range string
}

// Specificity is 0 for type/subtype, 1 for type/* and 2 for */*.
func (m MediaRange) Specificity() int {
	switch {
	case m.Range == "*/*":
		return specificityAny
	case strings.Contains(m.Range, "/*"):
		return specificityType
	default:
		return specificityExact
	}
}

// Parse splits an Accept header into media ranges in declaration order.
// Empty entries are skipped.
func Parse(accept string) []MediaRange {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, accept)
	if compact == "" {
		return nil
	}

	entries := strings.Split(compact, ",")
	ranges := make([]MediaRange, 0, len(entries))
	for _, entry := range entries {
		if entry == "" {
			continue
		}
		ranges = append(ranges, parseEntry(entry))
	}
	return ranges
}

func parseEntry(entry string) MediaRange {
	parts := strings.Split(entry, ";")
	mr := MediaRange{Range: parts[0], Quality: 1}
	if typ, sub, ok := strings.Cut(parts[0], "/"); ok {
		mr.Type, mr.Subtype = typ, sub
	} else {
		mr.Type = parts[0]
	}
	for _, param := range parts[1:] {
		raw, ok := strings.CutPrefix(param, "q=")
		if !ok {
			continue
		}
		q, err := strconv.ParseFloat(raw, 64)
		if err != nil || q < 0 || q > 1 {
			q = 1
		}
		mr.Quality = q
		break
	}
	return mr
}

// Sort orders ranges in place by quality and then specificity.
func Sort(ranges []MediaRange) {
	slices.SortStableFunc(ranges, func(a, b MediaRange) int {
		switch {
		case a.Quality > b.Quality:
			return -1
		case a.Quality < b.Quality:
			return 1
		default:
			return 0
		}
	})
	slices.SortStableFunc(ranges, func(a, b MediaRange) int {
		return a.Specificity() - b.Specificity()
	})
}

// Rank returns the client's preferred media types, most preferred first, as
// bare "type/subtype" strings. A non-empty override is placed ahead of
// everything the header declares; it is not validated here. Duplicates are
// kept.
func Rank(accept, override string) []string {
	ranges := Parse(accept)
	Sort(ranges)

	ranked := make([]string, 0, len(ranges)+1)
	if override = strings.TrimSpace(override); override != "" {
		bare, _, _ := strings.Cut(override, ";")
		ranked = append(ranked, strings.TrimSpace(bare))
	}
	for _, mr := range ranges {
		ranked = append(ranked, mr.Range)
	}
	return ranked
}
