package resolver

import (
	"net/url"
	"regexp"
	"strings"
)

// Classification is the result of identifier-scheme detection: the detected
// scheme and the single actionable URL to attempt for it.
type Classification struct {
	Scheme        string
	ActionableURL string
}

// A scheme pairs a detection matcher with the derivation of the canonical
// landing URL. normalize extracts the bare identifier value from the raw
// string (stripping resolver prefixes like "doi:" or "https://doi.org/").
// landingBase is empty for schemes that have no resolvable landing URL.
type scheme struct {
	name        string
	pattern     *regexp.Regexp
	landingBase string
	validate    func(value string) bool
}

// Detection/derivation modeled on the idutils scheme registry the original
// resolver used. Order is priority order: a "10.x/y" string is both a valid
// DOI and a valid Handle, and must classify as DOI.
//
// DOI, Handle and arXiv derive http:// bases on purpose: the https upgrade
// for identifiers submitted as https:// happens in ClassifyAndDerive.
var schemes = []scheme{
	{
		name:        "doi",
		pattern:     regexp.MustCompile(`(?i)^(?:doi:\s*|(?:https?://)?(?:dx\.)?doi\.org/)?(10\.\d{4,9}(?:\.\d+)*/\S+)$`),
		landingBase: "http://doi.org/",
	},
	{
		name:        "arxiv",
		pattern:     regexp.MustCompile(`(?i)^(?:arxiv:\s*|(?:https?://)?arxiv\.org/abs/)?(\d{4}\.\d{4,5}(?:v\d+)?)$`),
		landingBase: "http://arxiv.org/abs/",
	},
	{
		name:        "orcid",
		pattern:     regexp.MustCompile(`^(?:(?:https?://)?orcid\.org/)?(\d{4}-\d{4}-\d{4}-\d{3}[\dX])$`),
		landingBase: "https://orcid.org/",
		validate:    validOrcidChecksum,
	},
	{
		name:        "handle",
		pattern:     regexp.MustCompile(`(?i)^(?:hdl:\s*|(?:https?://)?hdl\.handle\.net/)?(\d[\d.]*/\S+)$`),
		landingBase: "http://hdl.handle.net/",
	},
	{
		name:        "urn:nbn",
		pattern:     regexp.MustCompile(`(?i)^(urn:nbn:[a-z]{2}[:\-]\S+)$`),
		landingBase: "https://nbn-resolving.org/",
	},
	{
		name:     "isbn",
		pattern:  regexp.MustCompile(`(?i)^(?:isbn:?\s*)?([\d-]{9,17}[\dX])$`),
		validate: validIsbnLength,
		// no landing URL for bare ISBNs; detected but not resolvable
	},
}

// DetectSchemes returns the names of all schemes the raw string matches, in
// priority order. A plain resolvable URL always matches last.
func DetectSchemes(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var detected []string
	for _, s := range schemes {
		m := s.pattern.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		if s.validate != nil && !s.validate(m[1]) {
			continue
		}
		detected = append(detected, s.name)
	}
	if isResolvableURL(raw) {
		detected = append(detected, "url")
	}
	return detected
}

// ClassifyAndDerive detects the identifier's scheme and derives the single
// actionable URL to attempt. The second return value is false when no scheme
// matches, or when the best match has no resolvable landing URL; callers must
// not create any resolution record in that case.
func ClassifyAndDerive(raw string) (*Classification, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}

	for _, s := range schemes {
		m := s.pattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		if s.validate != nil && !s.validate(m[1]) {
			continue
		}
		if s.landingBase == "" {
			return nil, false
		}
		actionable := s.landingBase + m[1]
		return &Classification{Scheme: s.name, ActionableURL: upgradeScheme(trimmed, actionable)}, true
	}

	if isResolvableURL(trimmed) {
		return &Classification{Scheme: "url", ActionableURL: trimmed}, true
	}
	return nil, false
}

// upgradeScheme preserves a quirk that affects redirect counting: when the
// derived canonical URL is http:// but the identifier was submitted as
// https://, the derivation would force one extra redirect hop the original
// PID never incurs. Rewrite to https:// in that case.
func upgradeScheme(raw string, derived string) string {
	if strings.HasPrefix(strings.ToLower(derived), "http:") && strings.HasPrefix(strings.ToLower(raw), "https:") {
		return "https:" + derived[len("http:"):]
	}
	return derived
}

func isResolvableURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// validOrcidChecksum verifies the ISO 7064 mod 11-2 check digit of an ORCID.
func validOrcidChecksum(value string) bool {
	digits := strings.ReplaceAll(value, "-", "")
	if len(digits) != 16 {
		return false
	}
	total := 0
	for _, r := range digits[:15] {
		if r < '0' || r > '9' {
			return false
		}
		total = (total + int(r-'0')) * 2
	}
	remainder := total % 11
	check := (12 - remainder) % 11
	last := digits[15]
	if check == 10 {
		return last == 'X'
	}
	return last == byte('0'+check)
}

// validIsbnLength accepts ISBN-10 and ISBN-13 shapes once separators are removed.
func validIsbnLength(value string) bool {
	digits := strings.ReplaceAll(value, "-", "")
	return len(digits) == 10 || len(digits) == 13
}
