package collector

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func f64(v float64) *float64 { return &v }

func TestTransform_UsesFirstIdentifierCandidate(t *testing.T) {
	cases := []struct {
		name string
		hit  RawHit
		want string
	}{
		{"cve_id wins", RawHit{CVEID: "CVE-2025-0001", ID: "other", Name: "x"}, "CVE-2025-0001"},
		{"falls back to id", RawHit{ID: "CVE-2025-0002", Name: "x"}, "CVE-2025-0002"},
		{"falls back to name", RawHit{Name: "CVE-2025-0003"}, "CVE-2025-0003"},
		{"whitespace skipped", RawHit{CVEID: "   ", ID: "CVE-2025-0004"}, "CVE-2025-0004"},
		{"uppercased", RawHit{CVEID: "cve-2025-0005"}, "CVE-2025-0005"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, ok := TransformHit(tc.hit)
			if !ok {
				t.Fatal("expected record")
			}
			if rec.ID != tc.want {
				t.Errorf("want %q, got %q", tc.want, rec.ID)
			}
		})
	}
}

func TestTransform_DropsHitWithoutIdentifier(t *testing.T) {
	_, ok := TransformHit(RawHit{Severity: "HIGH", Description: "no id here"})
	if ok {
		t.Fatal("expected hit to be dropped")
	}
}

func TestTransform_ScoreFallback(t *testing.T) {
	rec, _ := TransformHit(RawHit{CVEID: "CVE-2025-1000", CVSSScore: f64(9.8), Score: f64(5.0)})
	if !rec.HasScore || rec.Score != 9.8 {
		t.Errorf("dedicated score should win: got %v (has=%v)", rec.Score, rec.HasScore)
	}

	rec, _ = TransformHit(RawHit{CVEID: "CVE-2025-1001", Score: f64(5.0)})
	if !rec.HasScore || rec.Score != 5.0 {
		t.Errorf("generic score should apply: got %v (has=%v)", rec.Score, rec.HasScore)
	}

	rec, _ = TransformHit(RawHit{CVEID: "CVE-2025-1002"})
	if rec.HasScore {
		t.Error("score should be absent")
	}
}

func TestTransform_TruncatesComponents(t *testing.T) {
	affected := []string{"a", "b", "c", "d", "e", "f", "g"}
	rec, _ := TransformHit(RawHit{CVEID: "CVE-2025-1003", Affected: affected})

	if len(rec.Components) != maxComponents+1 {
		t.Fatalf("want %d components, got %d", maxComponents+1, len(rec.Components))
	}
	last := rec.Components[len(rec.Components)-1]
	if !strings.Contains(last, "2 more") {
		t.Errorf("missing continuation marker: %q", last)
	}

	short := []string{"a", "b"}
	rec, _ = TransformHit(RawHit{CVEID: "CVE-2025-1004", Affected: short})
	if len(rec.Components) != 2 {
		t.Errorf("short list must not be truncated: %v", rec.Components)
	}
}

func TestTransform_SeverityNormalization(t *testing.T) {
	cases := map[string]string{
		"critical": SeverityCritical,
		" High ":   SeverityHigh,
		"MEDIUM":   SeverityMedium,
		"low":      SeverityLow,
		"":         SeverityUnknown,
		"bogus":    SeverityUnknown,
	}
	for in, want := range cases {
		rec, _ := TransformHit(RawHit{CVEID: "CVE-2025-1005", Severity: in})
		if rec.Severity != want {
			t.Errorf("severity %q: want %q, got %q", in, want, rec.Severity)
		}
	}
}

func TestCleanText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "a   b\n\nc\td", "a b c d"},
		{"strips control chars", "a\x00b\x1fc", "a b c"},
		{"trims", "  hello  ", "hello"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanText(tc.in, 100); got != tc.want {
				t.Errorf("want %q, got %q", tc.want, got)
			}
		})
	}

	long := strings.Repeat("x", 3000)
	if got := CleanText(long, MaxDescriptionLen); len(got) != MaxDescriptionLen {
		t.Errorf("want length %d, got %d", MaxDescriptionLen, len(got))
	}
}

func TestCleanText_TruncatesOnRuneBoundary(t *testing.T) {
	// "é" is two bytes; a limit landing mid-rune must back up, not split it.
	in := strings.Repeat("é", 10)
	got := CleanText(in, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	if len(got) != 4 {
		t.Errorf("want 4 bytes (two whole runes), got %d (%q)", len(got), got)
	}
	if got != "éé" {
		t.Errorf("want %q, got %q", "éé", got)
	}
}

func TestValidateRecord(t *testing.T) {
	if err := ValidateRecord(Record{ID: "CVE-2025-12345"}); err != nil {
		t.Errorf("valid id rejected: %v", err)
	}
	for _, id := range []string{"", "CVE-25-1234", "GHSA-xxxx", "CVE-2025-12"} {
		if err := ValidateRecord(Record{ID: id}); err == nil {
			t.Errorf("id %q should fail validation", id)
		}
	}
}
