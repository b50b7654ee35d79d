package collector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func engineConfig(t *testing.T, baseURL string) Config {
	t.Helper()
	cfg := testConfig(baseURL, nil)
	cfg.OutputDir = t.TempDir()
	cfg.CheckpointDir = filepath.Join(cfg.OutputDir, "checkpoints")
	cfg.CheckpointsEnabled = true
	cfg.CheckpointEvery = 1
	return cfg
}

func TestEngine_RunExportsResults(t *testing.T) {
	upstream := newFakeUpstream(map[string][]RawHit{
		"": {
			{CVEID: "CVE-2025-0001", Severity: "HIGH"},
			{CVEID: "CVE-2025-0002", Severity: "LOW"},
		},
	})
	defer upstream.srv.Close()

	cfg := engineConfig(t, upstream.srv.URL)
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.Run(context.Background(), false); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	var resultPath string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "results-") {
			resultPath = filepath.Join(cfg.OutputDir, e.Name())
		}
	}
	if resultPath == "" {
		t.Fatal("no result file exported")
	}

	data, err := os.ReadFile(resultPath)
	if err != nil {
		t.Fatal(err)
	}
	var rs ResultSet
	if err := json.Unmarshal(data, &rs); err != nil {
		t.Fatalf("result file not valid json: %v", err)
	}
	if rs.TotalRecords != 2 || len(rs.Records) != 2 {
		t.Errorf("want 2 records in result set, got %d/%d", rs.TotalRecords, len(rs.Records))
	}
	if rs.CollectedAt.IsZero() {
		t.Error("collected_at missing")
	}
}

func TestEngine_FinalCheckpointAndResume(t *testing.T) {
	upstream := newFakeUpstream(map[string][]RawHit{
		"": {{CVEID: "CVE-2025-0001", Severity: "CRITICAL"}},
	})
	defer upstream.srv.Close()

	cfg := engineConfig(t, upstream.srv.URL)

	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.Run(context.Background(), false); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// Second engine resumes from the first run's shutdown checkpoint; kill
	// the upstream so any records it has must come from the checkpoint.
	upstream.srv.Close()

	resumed, err := NewEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	runErr := resumed.Run(context.Background(), true)
	if runErr == nil {
		t.Fatal("dead upstream should fail the run")
	}

	snap := resumed.store.Snapshot()
	if len(snap) != 1 || snap[0].ID != "CVE-2025-0001" {
		t.Errorf("checkpoint records not preloaded: %+v", snap)
	}
}

func TestEngine_CheckpointsDisabled(t *testing.T) {
	upstream := newFakeUpstream(map[string][]RawHit{
		"": {{CVEID: "CVE-2025-0001"}},
	})
	defer upstream.srv.Close()

	cfg := engineConfig(t, upstream.srv.URL)
	cfg.CheckpointsEnabled = false

	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.Run(context.Background(), true); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if _, err := os.Stat(cfg.CheckpointDir); !os.IsNotExist(err) {
		t.Error("checkpoint dir created despite checkpoints being disabled")
	}
}

func TestEngine_MonitorStopsOnCancel(t *testing.T) {
	upstream := newFakeUpstream(map[string][]RawHit{"": nil})
	defer upstream.srv.Close()

	engine, err := NewEngine(engineConfig(t, upstream.srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.monitor(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on cancellation")
	}
}

func TestEngine_StatusCounters(t *testing.T) {
	upstream := newFakeUpstream(map[string][]RawHit{
		"": {
			{CVEID: "CVE-2025-0001"},
			{Description: "dropped: no id"},
		},
	})
	defer upstream.srv.Close()

	cfg := engineConfig(t, upstream.srv.URL)
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.Run(context.Background(), false); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	st := engine.Status()
	if st.Collected != 1 || st.Inserted != 1 || st.Dropped != 1 {
		t.Errorf("bad counters: %+v", st)
	}
	if st.SweepsCompleted != 1 {
		t.Errorf("want 1 completed sweep, got %d", st.SweepsCompleted)
	}
}
