// Package detector finds and masks sensitive substrings in outgoing message text.
//
// The pattern set is a regex stand-in for a model-backed scanner; everything is
// behind the Detector interface so a trained implementation can drop in.
package detector

import (
	"regexp"
	"sort"
	"strings"
)

// Kind identifies a category of sensitive content.
type Kind string

const (
	KindEmail        Kind = "email"
	KindPhone        Kind = "phone"
	KindGovernmentID Kind = "government_id"
	KindPaymentCard  Kind = "payment_card"
	KindIPAddress    Kind = "ip_address"
)

// Match is one detected occurrence of a sensitive pattern.
type Match struct {
	Kind       Kind
	RawText    string
	MaskedText string
}

// Detector scans arbitrary text for sensitive content. Implementations must be
// pure: no side effects, deterministic for a given pattern set, and total over
// any string input (the empty string yields no matches).
type Detector interface {
	Scan(text string) []Match
	Mask(text string) (masked string, matches []Match)
	HasSensitiveContent(text string) bool
}

// recognizer couples a category pattern with its validation and mask rules.
// Categories may overlap on the same digit run (a grouped card number can
// also look like a phone number); Mask resolves overlaps by span.
type recognizer struct {
	kind   Kind
	rx     *regexp.Regexp
	accept func(raw string) bool // nil means every regex hit counts
	mask   func(raw string) string
}

var recognizers = []recognizer{
	{
		kind: KindEmail,
		rx:   regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		mask: maskEmail,
	},
	{
		kind: KindPhone,
		rx:   regexp.MustCompile(`(?:\+?\d{1,2}[\s.-]?)?\(?\d{3}\)?[\s.-]\d{3}[\s.-]?\d{4}\b`),
		mask: func(string) string { return "[masked phone]" },
	},
	{
		kind: KindGovernmentID,
		rx:   regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		mask: func(string) string { return "[masked ssn]" },
	},
	{
		kind:   KindPaymentCard,
		rx:     regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
		accept: cardAccept,
		mask:   maskCard,
	},
	{
		kind:   KindIPAddress,
		rx:     regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		accept: ipAccept,
		mask:   func(string) string { return "[masked ip]" },
	},
}

// Regex is the pattern-backed Detector.
type Regex struct{}

var _ Detector = Regex{}

// New returns the regex-backed detector.
func New() Regex { return Regex{} }

// span is one accepted match anchored to its position in the original input.
type span struct {
	start, end int
	m          Match
}

func scanSpans(text string) []span {
	var out []span
	for _, r := range recognizers {
		for _, loc := range r.rx.FindAllStringIndex(text, -1) {
			raw := text[loc[0]:loc[1]]
			if r.accept != nil && !r.accept(raw) {
				continue
			}
			out = append(out, span{
				start: loc[0],
				end:   loc[1],
				m:     Match{Kind: r.kind, RawText: raw, MaskedText: r.mask(raw)},
			})
		}
	}
	return out
}

// Scan reports every occurrence across every category. Categories are matched
// independently on the original input; no de-duplication by text span.
func (Regex) Scan(text string) []Match {
	var out []Match
	for _, s := range scanSpans(text) {
		out = append(out, s.m)
	}
	return out
}

// Mask rewrites every matched character run with its category mask and returns
// the rewritten text alongside the matches found in the original input.
// Replacement is by original span, not by re-matching rewritten text; where
// spans overlap the longest one wins, so a card number that also parses as a
// phone number is masked as a card with no digits surviving.
func (d Regex) Mask(text string) (string, []Match) {
	spans := scanSpans(text)
	var matches []Match
	for _, s := range spans {
		matches = append(matches, s.m)
	}
	if len(spans) == 0 {
		return text, matches
	}

	ordered := make([]span, len(spans))
	copy(ordered, spans)
	sort.SliceStable(ordered, func(i, j int) bool {
		li, lj := ordered[i].end-ordered[i].start, ordered[j].end-ordered[j].start
		if li != lj {
			return li > lj
		}
		return ordered[i].start < ordered[j].start
	})
	var keep []span
	for _, s := range ordered {
		overlaps := false
		for _, k := range keep {
			if s.start < k.end && k.start < s.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			keep = append(keep, s)
		}
	}
	sort.Slice(keep, func(i, j int) bool { return keep[i].start < keep[j].start })

	var b strings.Builder
	pos := 0
	for _, s := range keep {
		b.WriteString(text[pos:s.start])
		b.WriteString(s.m.MaskedText)
		pos = s.end
	}
	b.WriteString(text[pos:])
	return b.String(), matches
}

// HasSensitiveContent reports whether Scan finds at least one match.
func (d Regex) HasSensitiveContent(text string) bool { return len(d.Scan(text)) > 0 }

// maskEmail keeps the first local-part character and the full domain:
// "someone@example.com" -> "s***@example.com".
func maskEmail(raw string) string {
	at := strings.LastIndex(raw, "@")
	if at <= 0 {
		return "[masked email]"
	}
	return raw[:1] + "***" + raw[at:]
}

func maskCard(raw string) string {
	d := digits(raw)
	return "**** **** **** " + d[len(d)-4:]
}

// cardAccept requires 13-19 digits passing the Luhn checksum.
func cardAccept(raw string) bool {
	d := digits(raw)
	if len(d) < 13 || len(d) > 19 {
		return false
	}
	return luhn(d)
}

func ipAccept(raw string) bool {
	for _, oct := range strings.Split(raw, ".") {
		if len(oct) > 1 && oct[0] == '0' {
			return false
		}
		n := 0
		for i := 0; i < len(oct); i++ {
			n = n*10 + int(oct[i]-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

func digits(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func luhn(num string) bool {
	sum, alt := 0, false
	for i := len(num) - 1; i >= 0; i-- {
		c := int(num[i] - '0')
		if c < 0 || c > 9 {
			return false
		}
		if alt {
			c *= 2
			if c > 9 {
				c -= 9
			}
		}
		sum += c
		alt = !alt
	}
	return sum%10 == 0
}
