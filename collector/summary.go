package collector

// Summary holds aggregate counts over a finished record set.
type Summary struct {
	Total          int            `json:"total"`
	BySeverity     map[string]int `json:"by_severity"`
	WithFix        int            `json:"with_fix"`
	Exploitable    int            `json:"exploitable"`
	KnownExploited int            `json:"known_exploited"`
	HighProfile    int            `json:"high_profile"`
	WithReferences int            `json:"with_references"`
	ByReferenceCat map[string]int `json:"by_reference_category"`
	InvalidIDs     int            `json:"invalid_ids"`
}

// Summarize computes aggregate statistics for a record set. Records whose
// identifier fails the CVE grammar still count toward totals and severity,
// but are excluded from the reference statistics.
func Summarize(records []Record) Summary {
	sum := Summary{
		Total:          len(records),
		BySeverity:     make(map[string]int),
		ByReferenceCat: make(map[string]int),
	}

	for _, rec := range records {
		sum.BySeverity[rec.Severity]++
		if rec.HasFix {
			sum.WithFix++
		}
		if rec.Exploitable {
			sum.Exploitable++
		}
		if rec.KnownExploited {
			sum.KnownExploited++
		}
		if rec.HighProfile {
			sum.HighProfile++
		}

		if err := ValidateRecord(rec); err != nil {
			sum.InvalidIDs++
			continue
		}
		if len(rec.References) > 0 {
			sum.WithReferences++
		}
		for _, ref := range rec.References {
			sum.ByReferenceCat[ref.Category]++
		}
	}
	return sum
}
