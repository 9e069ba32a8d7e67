package services

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// priceRegexp captures currency amounts such as "₦3,000,000", "N2.5m"
	// or "NGN 450000".
	priceRegexp = regexp.MustCompile(`(?i)(?:₦|ngn|\bn)\s*[\d,]+(?:\.\d+)?\s*(?:k|m|million|mn)?\b|\b\d{1,3}(?:,\d{3})+(?:\.\d+)?\b|\b\d{5,}\b`)
	// periodRegexp captures the billing period attached to a price.
	periodRegexp = regexp.MustCompile(`(?i)(?:/|\bper\s+|\ba\s+)(?:yr|year|annum|month|mth|mo|night|day|sqm)\b`)
	// bedroomRegexp captures "3 bedroom", "3-bed", "3br".
	bedroomRegexp = regexp.MustCompile(`(?i)\b(\d{1,2})\s*-?\s*(?:bedrooms?|beds?|br|bd|bdr)\b`)
)

// stopWords are dropped before comparing titles.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "in": {}, "at": {}, "on": {}, "of": {}, "for": {},
	"to": {}, "and": {}, "with": {}, "by": {}, "is": {}, "off": {}, "near": {},
	"per": {}, "yr": {}, "year": {}, "annum": {}, "pa": {}, "month": {}, "night": {},
	"rent": {}, "sale": {}, "let": {}, "lease": {}, "available": {}, "new": {},
	"newly": {}, "built": {}, "now": {}, "nice": {}, "lovely": {}, "spacious": {},
	"ngn": {}, "naira": {},
}

// tokenAliases folds common spellings onto one token.
var tokenAliases = map[string]string{
	"bedrooms": "bedroom", "bed": "bedroom", "beds": "bedroom", "br": "bedroom",
	"bd": "bedroom", "bdr": "bedroom", "bedroomed": "bedroom",
	"flats": "flat", "apartments": "apartment", "duplexes": "duplex",
	"ph": "phase", "est": "estate",
	"rd": "road", "st": "street",
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

// foldText lower-cases s and removes diacritics.
func foldText(s string) string {
	// transform chains carry state, so each call builds its own.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(normaliseText(out))
}

// Slugify turns free text into a URL slug: "Lekki Phase 1" -> "lekki-phase-1".
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range foldText(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// stripPrices removes currency amounts and their billing periods from a
// listing title so they do not take part in token similarity.
func stripPrices(s string) string {
	s = priceRegexp.ReplaceAllString(s, " ")
	s = periodRegexp.ReplaceAllString(s, " ")
	return s
}

// titleTokens returns the comparable token set of a listing title:
// lower-cased, price-free, stop-word-stripped, aliases folded.
func titleTokens(title string) map[string]struct{} {
	text := foldText(stripPrices(title))
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(parts) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if alias, ok := tokenAliases[p]; ok {
			p = alias
		}
		if _, stop := stopWords[p]; stop {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}

// titleBedrooms extracts a bedroom count mentioned in a title.
func titleBedrooms(title string) (int, bool) {
	m := bedroomRegexp.FindStringSubmatch(title)
	if len(m) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// jaccard is |a∩b| / |a∪b|; two empty sets score 0.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func stringSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = foldText(it)
		if it != "" {
			set[it] = struct{}{}
		}
	}
	return set
}
