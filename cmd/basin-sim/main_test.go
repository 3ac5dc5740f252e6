package main

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/headwaterworks/basin-simulator/core"
	"github.com/headwaterworks/basin-simulator/results"
)

// TestIntegration_ReservoirModelRun loads a small reservoir model from disk
// and drives it end to end, the same way main wires a run.
func TestIntegration_ReservoirModelRun(t *testing.T) {
	const doc = `{
		"metadata": {"title": "Reservoir transfer 1", "minimum_version": "0.1"},
		"timestepper": {"start": "2015-01-01", "end": "2015-01-10", "timestep": 1},
		"nodes": [
			{"name": "supply1", "type": "storage", "max_volume": 35, "initial_volume": 35},
			{"name": "link1", "type": "link"},
			{"name": "demand1", "type": "output", "max_flow": 15, "cost": -10},
			{"name": "catchment1", "type": "input", "min_flow": 5, "max_flow": 5},
			{"name": "abs1", "type": "link", "max_flow": 5},
			{"name": "term1", "type": "output", "cost": 1}
		],
		"edges": [
			["supply1", "link1"],
			["link1", "demand1"],
			["catchment1", "abs1"],
			["abs1", "supply1"],
			["abs1", "term1"]
		]
	}`

	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write model: %v", err)
	}

	loaded, err := loadModelFile(path)
	if err != nil {
		t.Fatalf("loadModelFile: %v", err)
	}
	if got := loaded.Horizon.Count(); got != 10 {
		t.Fatalf("horizon count = %d, want 10", got)
	}

	store := results.NewStore()
	streamed := 0
	unsubscribe := store.Subscribe(func(ev results.Event) {
		if ev.Type == results.EventStepAppended {
			streamed++
		}
	})
	defer unsubscribe()

	engine := core.NewSimulationEngine(loaded.Network, loaded.Horizon, core.WithResultsStore(store))
	report, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.StepsCompleted != 10 {
		t.Fatalf("StepsCompleted = %d, want 10", report.StepsCompleted)
	}
	// Ten days draining a full 35-unit reservoir against a 15-unit demand
	// with a 5-unit catchment: 3 full-delivery days, one 10-unit day, then
	// flow-through at 5 units.
	if math.Abs(report.TotalObjective-(-850)) > 1e-6 {
		t.Fatalf("TotalObjective = %v, want -850", report.TotalObjective)
	}
	if got := report.FinalVolumes["supply1"]; math.Abs(got) > 1e-9 {
		t.Fatalf("final supply1 volume = %v, want 0", got)
	}
	if streamed != 10 {
		t.Fatalf("streamed records = %d, want 10", streamed)
	}
}

func TestLoadRunConfig(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "run.yaml")
	body := "model: configs/simple1.json\nlog_level: warn\nquiet: true\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadRunConfig(path)
	if err != nil {
		t.Fatalf("loadRunConfig: %v", err)
	}
	if cfg.Model != "configs/simple1.json" || cfg.LogLevel != "warn" || !cfg.Quiet {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	if _, err := loadRunConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for a missing config file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("model: [unclosed"), 0o600); err != nil {
		t.Fatalf("write bad config: %v", err)
	}
	if _, err := loadRunConfig(bad); err == nil {
		t.Fatalf("expected error for a malformed config file")
	}
}
