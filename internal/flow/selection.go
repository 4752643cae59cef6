package flow

import (
	"strconv"
	"strings"
	"unicode"
)

// Positional sentinels used by OrdinalWords for positions that depend on the
// size of the presented list.
const (
	PositionLast   = -1
	PositionMiddle = -2
)

// MaxSelectionTextLen is the rune length at or under which a message is
// considered a possible selection reply.
const MaxSelectionTextLen = 20

// OrdinalWords maps Arabic ordinal expressions to a 1-based position, or to
// one of the positional sentinels. Longer phrases must come before their
// substrings in matching, so lookup walks ordinalMatchOrder.
var OrdinalWords = map[string]int{
	"الاول":  1,
	"الأول":  1,
	"التاني": 2,
	"الثاني": 2,
	"التالت": 3,
	"الثالث": 3,
	"الرابع": 4,
	"الخامس": 5,
	"الاخير": PositionLast,
	"الأخير": PositionLast,
	"في النص": PositionMiddle,
	"الاوسط":  PositionMiddle,
	"الأوسط":  PositionMiddle,
}

// ordinalMatchOrder fixes the scan order so multi-word phrases win over
// shorter ones.
var ordinalMatchOrder = []string{
	"في النص",
	"الاوسط", "الأوسط",
	"الاخير", "الأخير",
	"الخامس",
	"الرابع",
	"التالت", "الثالث",
	"التاني", "الثاني",
	"الاول", "الأول",
}

// SelectionMarkers are words whose presence makes a short message look like
// a reply to a numbered list rather than a fresh query.
var SelectionMarkers = []string{
	"رقم",   // "number ..."
	"اختار", // "I pick ..."
	"ده",    // "this one"
	"دي",    // "this one" (fem.)
	"هذا",
	"هذه",
	"الاول", "الأول",
	"التاني", "الثاني",
	"التالت", "الثالث",
	"الاخير", "الأخير",
	"النص",
}

// arabicIndicDigits maps Eastern Arabic numerals to ASCII.
var arabicIndicDigits = strings.NewReplacer(
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

// normalizeDigits converts Eastern Arabic numerals so the digit rules below
// see one representation.
func normalizeDigits(text string) string {
	return arabicIndicDigits.Replace(text)
}

// resolveOrdinal maps a sentinel or literal position to a 1-based index
// bounded by n, 0 when out of range.
func resolveOrdinal(position, n int) int {
	switch position {
	case PositionLast:
		return n
	case PositionMiddle:
		// For an even list this lands on the earlier of the two middle
		// elements: two items resolve to index 1.
		return (n + 1) / 2
	default:
		if position >= 1 && position <= n {
			return position
		}
		return 0
	}
}

// ParsePositionalReference resolves a message to a 1-based index into a
// presented list of size n, without any model call. It recognizes a bare
// number 1..n, an Arabic ordinal word, and a standalone digit embedded in
// longer text. ok is false when nothing resolves.
func ParsePositionalReference(text string, n int) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	normalized := strings.TrimSpace(normalizeDigits(text))
	if normalized == "" {
		return 0, false
	}

	// Bare number.
	if v, err := strconv.Atoi(normalized); err == nil {
		if idx := resolveOrdinal(v, n); idx > 0 {
			return idx, true
		}
		return 0, false
	}

	// Ordinal word.
	for _, word := range ordinalMatchOrder {
		if !strings.Contains(normalized, word) {
			continue
		}
		if idx := resolveOrdinal(OrdinalWords[word], n); idx > 0 {
			return idx, true
		}
		return 0, false
	}

	// Standalone digit token inside longer text.
	for _, token := range strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsDigit(r)
	}) {
		if v, err := strconv.Atoi(token); err == nil {
			if idx := resolveOrdinal(v, n); idx > 0 {
				return idx, true
			}
		}
	}
	return 0, false
}

// LooksLikeSelection reports whether a message plausibly replies to a
// numbered list: short, purely numeric, carrying a standalone digit 1-9, or
// containing a selection marker word. False negatives degrade into a fresh
// search; false positives cost one model call that returns no selection.
func LooksLikeSelection(text string) bool {
	normalized := strings.TrimSpace(normalizeDigits(text))
	if normalized == "" {
		return false
	}
	if len([]rune(normalized)) <= MaxSelectionTextLen {
		return true
	}
	if isAllDigits(normalized) {
		return true
	}
	for _, token := range strings.Fields(normalized) {
		if len(token) == 1 && token[0] >= '1' && token[0] <= '9' {
			return true
		}
	}
	for _, marker := range SelectionMarkers {
		if containsWord(normalized, marker) {
			return true
		}
	}
	return false
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// containsWord reports whether text contains marker as a whitespace-bounded
// word.
func containsWord(text, marker string) bool {
	for _, token := range strings.Fields(text) {
		if token == marker {
			return true
		}
	}
	return false
}
