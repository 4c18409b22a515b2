package status

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Status is the pipeline-independent classification of a stage, used for
// cross-pipeline reporting regardless of how a pipeline labels its columns.
type Status string

const (
	Pending   Status = "pending"
	Confirmed Status = "confirmed"
	Postponed Status = "postponed"
	Packaging Status = "packaging"
	Shipped   Status = "shipped"
	Delivered Status = "delivered"
	Cancelled Status = "cancelled"
	Returned  Status = "returned"
	Unknown   Status = ""
)

// All lists the known statuses in workflow order.
func All() []Status {
	return []Status{Pending, Confirmed, Postponed, Packaging, Shipped, Delivered, Cancelled, Returned}
}

// Valid reports whether s is a known status value.
func Valid(s string) bool {
	for _, st := range All() {
		if string(st) == s {
			return true
		}
	}
	return false
}

// synonyms collapses folded stage spellings to one canonical token. Keys must
// already be folded (lowercase, no diacritics). Canonical tokens map to
// themselves so Normalize is idempotent.
var synonyms = map[string]string{
	"confirme":     "confirmer",
	"confirmed":    "confirmer",
	"confirmer":    "confirmer",
	"confirmation": "confirmer",
	"livre":        "livre",
	"livree":       "livre",
	"delivre":      "livre",
	"delivered":    "livre",
	"annule":       "annuler",
	"annulee":      "annuler",
	"annuler":      "annuler",
	"cancelled":    "annuler",
	"canceled":     "annuler",
	"reporter":     "reporter",
	"reporte":      "reporter",
	"reportee":     "reporter",
	"postponed":    "reporter",
	"en attente":   "attente",
	"attente":      "attente",
	"pending":      "attente",
	"nouveau":      "attente",
	"new":          "attente",
	"packaging":    "packaging",
	"emballage":    "packaging",
	"expedie":      "expedier",
	"expediee":     "expedier",
	"expedier":     "expedier",
	"shipped":      "expedier",
	"retourne":     "retourner",
	"retourner":    "retourner",
	"returned":     "retourner",
	"retour":       "retourner",
}

// canonical maps normalized tokens to their reporting status.
var canonical = map[string]Status{
	"attente":   Pending,
	"confirmer": Confirmed,
	"reporter":  Postponed,
	"packaging": Packaging,
	"expedier":  Shipped,
	"livre":     Delivered,
	"annuler":   Cancelled,
	"retourner": Returned,
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize turns a raw stage string into the comparison key used for
// bucketing: folded to lowercase without diacritics, with known synonyms
// collapsed and pipeline suffixes such as "-AG" stripped when the remainder is
// a known spelling. The function is pure and total; empty or unrecognized
// input comes back as-is (folded) and never panics.
func Normalize(raw string) string {
	token := Fold(raw)
	if token == "" {
		return ""
	}
	if c, ok := synonyms[token]; ok {
		return c
	}
	if base, ok := stripSuffix(token); ok {
		if c, ok := synonyms[base]; ok {
			return c
		}
	}
	return token
}

// CanonicalOf returns the reporting status for a raw stage string, or Unknown
// when the stage does not normalize to a known token.
func CanonicalOf(raw string) Status {
	if s, ok := canonical[Normalize(raw)]; ok {
		return s
	}
	return Unknown
}

// Fold lowercases, trims, strips diacritics and collapses inner whitespace.
func Fold(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return ""
	}
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}
	return strings.Join(strings.Fields(s), " ")
}

// stripSuffix removes a short trailing pipeline tag ("confirme-ag" ->
// "confirme"). Only suffixes of one to three letters or digits qualify, so
// hyphenated stage names keep their meaning.
func stripSuffix(token string) (string, bool) {
	i := strings.LastIndexByte(token, '-')
	if i <= 0 {
		return token, false
	}
	suffix := token[i+1:]
	if len(suffix) == 0 || len(suffix) > 3 {
		return token, false
	}
	for _, r := range suffix {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return token, false
		}
	}
	return token[:i], true
}

// Match reports whether two raw stage strings refer to the same stage once
// normalized. This is the single comparison every bucketing and transition
// check funnels through.
func Match(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
