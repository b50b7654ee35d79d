package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBytes = 10 * 1024 * 1024

// SearchClient issues page requests against the upstream search endpoint.
// One network call per FetchPage; retry policy belongs to the caller.
type SearchClient struct {
	baseURL string
	client  *http.Client
}

type searchRequest struct {
	FilterTokens []string `json:"filter_tokens"`
	PageIndex    int      `json:"page_index"`
	PageSize     int      `json:"page_size"`
}

type searchResponse struct {
	TotalHits int      `json:"total_hits"`
	Hits      []RawHit `json:"hits"`
}

func NewSearchClient(baseURL string) *SearchClient {
	return &SearchClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchPage requests one page of search results. filterTokens are combined
// with OR semantics upstream; an empty list means the unfiltered corpus.
func (c *SearchClient) FetchPage(ctx context.Context, pageIndex, pageSize int, filterTokens []string) (int, []RawHit, error) {
	if pageIndex < 0 {
		return 0, nil, fmt.Errorf("page index %d out of range", pageIndex)
	}
	if pageSize < 1 {
		return 0, nil, fmt.Errorf("page size %d out of range", pageSize)
	}

	if filterTokens == nil {
		filterTokens = []string{}
	}
	reqBody, err := json.Marshal(searchRequest{
		FilterTokens: filterTokens,
		PageIndex:    pageIndex,
		PageSize:     pageSize,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/search", bytes.NewReader(reqBody))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cves-collector/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, nil, fmt.Errorf("HTTP %d for page %d", resp.StatusCode, pageIndex)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}

	var page searchResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return 0, nil, fmt.Errorf("unmarshal page %d: %w", pageIndex, err)
	}

	return page.TotalHits, page.Hits, nil
}

// ProbeTotal asks for a single hit on page zero to learn how many results a
// filter set has. The count can drift before later pages are fetched; sweeps
// do not re-probe mid-flight.
func (c *SearchClient) ProbeTotal(ctx context.Context, filterTokens []string) (int, error) {
	total, _, err := c.FetchPage(ctx, 0, 1, filterTokens)
	return total, err
}
