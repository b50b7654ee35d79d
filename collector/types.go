package collector

import (
	"sync/atomic"
	"time"
)

// Severity levels as reported by the search backend.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
	SeverityUnknown  = "UNKNOWN"
)

// Reference is one categorized external link pulled from a vulnerability's
// detail page.
type Reference struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Category string `json:"category"`
}

// Record is one collected vulnerability entry, keyed by its CVE identifier.
type Record struct {
	ID             string      `json:"id"`
	Severity       string      `json:"severity"`
	Score          float64     `json:"score,omitempty"`
	HasScore       bool        `json:"has_score"`
	Technologies   []string    `json:"technologies,omitempty"`
	Components     []string    `json:"components,omitempty"`
	Published      string      `json:"published,omitempty"`
	Description    string      `json:"description,omitempty"`
	HasFix         bool        `json:"has_fix"`
	Exploitable    bool        `json:"exploitable"`
	HighProfile    bool        `json:"high_profile"`
	KnownExploited bool        `json:"known_exploited"`
	SourceURL      string      `json:"source_url,omitempty"`
	References     []Reference `json:"references,omitempty"`
}

// RawHit is one entry of a search page as returned by the backend. Field
// names mirror the upstream response; which of the identifier candidates is
// populated varies by corpus age.
type RawHit struct {
	CVEID        string   `json:"cve_id"`
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Severity     string   `json:"severity"`
	CVSSScore    *float64 `json:"cvss_score"`
	Score        *float64 `json:"score"`
	Technologies []string `json:"technologies"`
	Affected     []string `json:"affected_software"`
	Published    string   `json:"published"`
	Description  string   `json:"description"`
	HasFix       bool     `json:"has_fix"`
	Exploitable  bool     `json:"exploitable"`
	HighProfile  bool     `json:"high_profile"`
	KEV          bool     `json:"known_exploited"`
	URL          string   `json:"url"`
}

// FacetFilter is one predefined upstream query constraint used to partition
// the corpus across sweeps. The token is opaque to the engine.
type FacetFilter struct {
	Token string
	Label string
}

// DefaultFacets is the fixed facet enumeration used when FACETS is not
// overridden. One sweep runs per entry, plus the unfiltered sweep.
var DefaultFacets = []FacetFilter{
	{Token: "technology:linux", Label: "Linux"},
	{Token: "technology:windows", Label: "Windows"},
	{Token: "technology:macos", Label: "macOS"},
	{Token: "technology:android", Label: "Android"},
	{Token: "technology:apache", Label: "Apache"},
	{Token: "technology:wordpress", Label: "WordPress"},
	{Token: "technology:docker", Label: "Docker"},
	{Token: "technology:kubernetes", Label: "Kubernetes"},
	{Token: "technology:openssl", Label: "OpenSSL"},
	{Token: "technology:nodejs", Label: "Node.js"},
}

// Checkpoint is a durable, timestamped snapshot of collected records and
// progress. Never mutated after write; later checkpoints supersede it.
type Checkpoint struct {
	Timestamp      time.Time `json:"timestamp"`
	ProcessedCount int64     `json:"processed_count"`
	Records        []Record  `json:"records"`
}

// ResultSet is the exported output of a completed run.
type ResultSet struct {
	CollectedAt  time.Time `json:"collected_at"`
	TotalRecords int       `json:"total_records"`
	Records      []Record  `json:"records"`
}

// Stats holds the engine's progress counters. The engine owns one instance
// and hands it to whoever needs visibility; there is no package-level
// ambient copy.
type Stats struct {
	Inserted        atomic.Int64
	Dropped         atomic.Int64
	PageErrors      atomic.Int64
	EnrichErrors    atomic.Int64
	SweepsCompleted atomic.Int64
	SweepsFailed    atomic.Int64
}

// Sweep states.
type SweepState string

const (
	SweepPending   SweepState = "PENDING"
	SweepProbing   SweepState = "PROBING"
	SweepPaging    SweepState = "PAGING"
	SweepMerging   SweepState = "MERGING"
	SweepCompleted SweepState = "COMPLETED"
	SweepFailed    SweepState = "FAILED"
)
