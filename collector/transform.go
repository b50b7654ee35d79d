package collector

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxDescriptionLen = 2000
	maxComponents     = 5
)

var cveIDPattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// TransformHit maps one raw search hit into the canonical Record shape.
// It returns false when the hit carries no usable identifier, in which case
// the hit is dropped. Pure: no I/O, no logging.
func TransformHit(hit RawHit) (Record, bool) {
	id := firstNonEmpty(hit.CVEID, hit.ID, hit.Name)
	if id == "" {
		return Record{}, false
	}

	rec := Record{
		ID:             strings.ToUpper(strings.TrimSpace(id)),
		Severity:       normalizeSeverity(hit.Severity),
		Technologies:   hit.Technologies,
		Components:     truncateComponents(hit.Affected),
		Published:      strings.TrimSpace(hit.Published),
		Description:    CleanText(hit.Description, MaxDescriptionLen),
		HasFix:         hit.HasFix,
		Exploitable:    hit.Exploitable,
		HighProfile:    hit.HighProfile,
		KnownExploited: hit.KEV,
		SourceURL:      hit.URL,
	}

	// Dedicated CVSS field wins; the generic score field is a fallback for
	// older corpus entries.
	switch {
	case hit.CVSSScore != nil:
		rec.Score, rec.HasScore = *hit.CVSSScore, true
	case hit.Score != nil:
		rec.Score, rec.HasScore = *hit.Score, true
	}

	return rec, true
}

// ValidateRecord checks the record against the upstream identifier grammar.
// Failures are advisory: callers log and keep the record, but exclude it
// from reference statistics.
func ValidateRecord(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("empty identifier")
	}
	if !cveIDPattern.MatchString(rec.ID) {
		return fmt.Errorf("identifier %q does not match CVE grammar", rec.ID)
	}
	return nil
}

// CleanText collapses whitespace runs, strips control characters, and bounds
// the result to maxLen bytes.
func CleanText(s string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.Join(strings.Fields(b.String()), " ")
	if len(cleaned) > maxLen {
		// Back up to a rune boundary so truncation never leaves invalid UTF-8.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = cleaned[:cut]
	}
	return cleaned
}

func truncateComponents(affected []string) []string {
	if len(affected) <= maxComponents {
		return affected
	}
	out := make([]string, maxComponents, maxComponents+1)
	copy(out, affected[:maxComponents])
	out = append(out, fmt.Sprintf("…and %d more", len(affected)-maxComponents))
	return out
}

func normalizeSeverity(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case SeverityLow:
		return SeverityLow
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityUnknown
	}
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return ""
}
