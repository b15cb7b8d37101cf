// Package extract recovers recipient fields from partially masked order
// detail text. The seller center gives no structural guarantee about where
// the name, phone number and shipping address render, so classification is a
// fixed-order cascade of heuristics over cleaned text fragments, with a
// whole-page scan as the last resort for phone numbers.
package extract

import (
	"regexp"
	"strings"
	"unicode"
)

// Record is the recipient data recovered from one order detail page. It is
// rebuilt from scratch on every attempt; retries never merge with a previous
// partial extraction.
type Record struct {
	Name     string   `json:"name,omitempty"`
	Phone    string   `json:"phone_number,omitempty"`
	Address  string   `json:"full_address,omitempty"`
	RawTexts []string `json:"raw_texts,omitempty"`
	HasData  bool     `json:"hasData"`
	IsMasked bool     `json:"isMasked"`
}

// Seed carries values read from dedicated page fields before the heuristic
// pass runs. Seeded fields are kept as-is; the cascade only fills gaps.
type Seed struct {
	Name    string
	Phone   string
	Address string
}

const (
	// Candidate fragments kept on the record for diagnostics.
	maxRawTexts = 10

	// A plausible name is short, mostly alphabetic and nearly digit-free.
	minNameLen        = 3
	maxNameLen        = 50
	minLetterFraction = 0.6

	// Anything longer than this reads as an address.
	longTextLen = 30

	minPhoneDigits = 8
)

var (
	// maskRe matches the placeholder runs the seller center renders over
	// undisclosed values, e.g. "J***n" or "+601*****789".
	maskRe = regexp.MustCompile(`\*{3,}`)

	// phoneShapeRe matches a whole candidate that looks like a phone number
	// once spaces are stripped: optional leading +, then digits/dashes.
	phoneShapeRe = regexp.MustCompile(`^\+?[\d\-]+$`)

	// pagePhoneRe finds Malaysian numbers (country code or trunk 0 prefix)
	// anywhere in free-running page text.
	pagePhoneRe = regexp.MustCompile(`(?:\+?60|0)[\d\s\-]{8,12}`)

	postalCodeRe = regexp.MustCompile(`\d{5}`)
	addressWords = regexp.MustCompile(`(?i)jalan|lorong|taman|blok|unit|no\.|floor`)
	digitRunRe   = regexp.MustCompile(`\d{3,}`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// sectionLabels are headings the detail page renders next to the values.
// They survive the mask filter but carry no data.
var sectionLabels = map[string]struct{}{
	"shipping to":      {},
	"shipping address": {},
	"delivery address": {},
	"recipient":        {},
	"buyer":            {},
	"name":             {},
	"phone":            {},
	"phone number":     {},
	"mobile":           {},
	"address":          {},
	"copy":             {},
	"edit":             {},
}

// IsMasked reports whether s still contains a placeholder run.
func IsMasked(s string) bool {
	return maskRe.MatchString(s)
}

// CleanText collapses runs of whitespace and trims the result.
func CleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// Candidates cleans raw page fragments and drops the ones that cannot carry
// recipient data: empty strings, fragments still masked, and section labels.
// Order is preserved; classification depends on it.
func Candidates(fragments []string) []string {
	out := make([]string, 0, len(fragments))
	for _, f := range fragments {
		text := CleanText(f)
		if text == "" || IsMasked(text) {
			continue
		}
		if _, ok := sectionLabels[strings.ToLower(text)]; ok {
			continue
		}
		out = append(out, text)
	}
	return out
}

// Classify runs the ordered rule cascade over the fragments and returns a
// fresh Record. Rules are first-match-wins per field and candidates are
// checked in page order, so the result is deterministic for a given input.
// If no candidate yields a phone number, the full page text is scanned as a
// fallback.
func Classify(seed Seed, fragments []string, pageText string) *Record {
	rec := &Record{
		Name:    CleanText(seed.Name),
		Phone:   CleanText(seed.Phone),
		Address: CleanText(seed.Address),
	}

	candidates := Candidates(fragments)
	if len(candidates) > maxRawTexts {
		rec.RawTexts = candidates[:maxRawTexts]
	} else {
		rec.RawTexts = candidates
	}

	for _, text := range candidates {
		switch {
		case rec.Phone == "" && looksLikePhone(text):
			rec.Phone = text
		case rec.Address == "" && looksLikeAddress(text):
			rec.Address = text
		case rec.Name == "" && looksLikeName(text):
			rec.Name = text
		}
	}

	// Whole-page fallback: dedicated fields and the shipping section can
	// both miss the number when the layout shifts, but the digits are
	// usually somewhere in the body text once disclosure succeeded.
	if rec.Phone == "" {
		for _, m := range pagePhoneRe.FindAllString(pageText, -1) {
			if !IsMasked(m) {
				rec.Phone = CleanText(m)
				break
			}
		}
	}

	rec.HasData = rec.Name != "" || rec.Phone != "" || rec.Address != ""
	rec.IsMasked = !rec.HasData ||
		IsMasked(rec.Name) || IsMasked(rec.Phone) || IsMasked(rec.Address)
	return rec
}

func looksLikePhone(text string) bool {
	compact := strings.ReplaceAll(text, " ", "")
	if !phoneShapeRe.MatchString(compact) {
		return false
	}
	return countDigits(compact) >= minPhoneDigits
}

func looksLikeAddress(text string) bool {
	return len([]rune(text)) > longTextLen ||
		postalCodeRe.MatchString(text) ||
		addressWords.MatchString(text)
}

func looksLikeName(text string) bool {
	runes := []rune(text)
	if len(runes) < minNameLen || len(runes) >= maxNameLen {
		return false
	}
	if digitRunRe.MatchString(text) {
		return false
	}
	letters := 0
	for _, r := range runes {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return float64(letters)/float64(len(runes)) >= minLetterFraction
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
