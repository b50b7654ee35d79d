package collector

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	SearchURL          string
	PageSize           int
	SweepConcurrency   int
	PageDelay          time.Duration
	EnrichDelay        time.Duration
	GroupDelay         time.Duration
	MaxRecords         int
	CheckpointEvery    int64
	CheckpointDir      string
	CheckpointsEnabled bool
	OutputDir          string
	PostgresDSN        string
	Facets             []FacetFilter
}

func LoadConfig() Config {
	loadDotEnv()

	cfg := Config{
		SearchURL:          getEnv("SEARCH_URL", "https://vulnsearch.example.com"),
		PageSize:           getEnvInt("PAGE_SIZE", 50),
		SweepConcurrency:   getEnvInt("SWEEP_CONCURRENCY", 3),
		PageDelay:          getEnvMillis("PAGE_DELAY_MS", 1500),
		EnrichDelay:        getEnvMillis("ENRICH_DELAY_MS", 300),
		GroupDelay:         getEnvMillis("GROUP_DELAY_MS", 5000),
		MaxRecords:         getEnvInt("MAX_RECORDS", 5000),
		CheckpointEvery:    int64(getEnvInt("CHECKPOINT_EVERY", 250)),
		CheckpointDir:      getEnv("CHECKPOINT_DIR", "data/checkpoints"),
		CheckpointsEnabled: getEnvBool("CHECKPOINTS_ENABLED", true),
		OutputDir:          getEnv("OUTPUT_DIR", "data"),
		PostgresDSN:        getEnv("PG_DSN", ""),
		Facets:             DefaultFacets,
	}

	if raw := getEnv("FACETS", ""); raw != "" {
		cfg.Facets = parseFacets(raw)
	}

	if cfg.PageSize < 1 {
		cfg.PageSize = 50
	}
	if cfg.SweepConcurrency < 1 {
		cfg.SweepConcurrency = 1
	}

	return cfg
}

// parseFacets turns a comma-separated label list ("Linux,Apache") into
// facet filters using the same token scheme as DefaultFacets.
func parseFacets(raw string) []FacetFilter {
	var facets []FacetFilter
	for _, part := range strings.Split(raw, ",") {
		label := strings.TrimSpace(part)
		if label == "" {
			continue
		}
		token := "technology:" + strings.ToLower(strings.ReplaceAll(label, " ", ""))
		facets = append(facets, FacetFilter{Token: token, Label: label})
	}
	return facets
}

func loadDotEnv() {
	for _, path := range []string{".env", "../.env"} {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			if _, exists := os.LookupEnv(strings.TrimSpace(k)); !exists {
				os.Setenv(strings.TrimSpace(k), strings.TrimSpace(v))
			}
		}
		f.Close()
		return
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Millisecond
}
