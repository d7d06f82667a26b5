package storage

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"coinwatch/src/logger"
	"coinwatch/src/models"
)

func newTestCSVStore(t *testing.T) *CSVStore {
	t.Helper()
	cfg := &models.MConfig{
		Storage: models.MStorageConfig{
			DBType: "csv",
			DBPath: filepath.Join(t.TempDir(), "metrics.csv"),
		},
	}
	s, err := NewCSVStore(cfg, logger.GetLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	return s
}

func fp(v float64) *float64 { return &v }

func sampleSnapshot() models.MSnapshot {
	return models.MSnapshot{
		"BTC": {
			Symbol:      "BTC",
			Code:        "btc",
			Name:        "Bitcoin",
			FullName:    "Bitcoin",
			Holders:     fp(1000),
			Circulation: fp(21000000),
			Purity:      fp(88.5),
		},
		"ETH": {
			Symbol:  "ETH",
			Code:    "eth",
			Holders: fp(50),
			// Circulation unknown this cycle.
		},
	}
}

func TestCSV_SaveLoadRoundTrip(t *testing.T) {
	s := newTestCSVStore(t)

	if err := s.Save(sampleSnapshot()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(loaded))
	}

	btc := loaded["BTC"]
	if btc.Holders == nil || *btc.Holders != 1000 {
		t.Errorf("holders mismatch: %v", btc.Holders)
	}
	if btc.Purity == nil || *btc.Purity != 88.5 {
		t.Errorf("purity mismatch: %v", btc.Purity)
	}

	// Unknown values survive as nil, not zero.
	if loaded["ETH"].Circulation != nil {
		t.Error("nil metric must stay nil through persistence")
	}
}

func TestCSV_LoadReturnsLatestWrite(t *testing.T) {
	s := newTestCSVStore(t)

	if err := s.Save(sampleSnapshot()); err != nil {
		t.Fatal(err)
	}

	// Backdate the first write so the second one is strictly newer.
	if err := backdateLog(s.path, 3600); err != nil {
		t.Fatal(err)
	}

	second := models.MSnapshot{
		"BTC": {Symbol: "BTC", Code: "btc", Holders: fp(1100)},
	}
	if err := s.Save(second); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected only the latest write, got %d assets", len(loaded))
	}
	if *loaded["BTC"].Holders != 1100 {
		t.Errorf("expected latest holders 1100, got %v", *loaded["BTC"].Holders)
	}
}

// backdateLog shifts every data row's timestamp into the past by secs.
func backdateLog(path string, secs int64) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	for i, line := range lines {
		if i == 0 || line == "" { // header
			continue
		}
		fields := strings.SplitN(line, ",", 2)
		ts, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return err
		}
		lines[i] = strconv.FormatInt(ts-secs, 10) + "," + fields[1]
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
}

func TestCSV_LoadEmptyLog(t *testing.T) {
	s := newTestCSVStore(t)

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("load of empty log failed: %v", err)
	}
	if loaded != nil {
		t.Error("expected nil snapshot from an empty log")
	}
}

func TestCSV_MarkerWritten(t *testing.T) {
	s := newTestCSVStore(t)

	if err := s.Save(sampleSnapshot()); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(s.markerPath())
	if err != nil {
		t.Fatalf("marker file missing: %v", err)
	}

	parts := strings.Split(strings.TrimSpace(string(raw)), ",")
	if len(parts) != 2 {
		t.Fatalf("bad marker format: %q", raw)
	}
	if _, err := time.Parse(time.RFC3339, parts[0]); err != nil {
		t.Errorf("marker timestamp not RFC3339: %q", parts[0])
	}
	if parts[1] != "2" {
		t.Errorf("expected row count 2, got %q", parts[1])
	}
}

func TestCSV_PruneDropsOldRows(t *testing.T) {
	s := newTestCSVStore(t)

	if err := s.Save(sampleSnapshot()); err != nil {
		t.Fatal(err)
	}

	// Backdate every row beyond the retention horizon.
	if err := backdateLog(s.path, 8*24*3600); err != nil {
		t.Fatal(err)
	}

	if err := s.Prune(7 * 24 * time.Hour); err != nil {
		t.Fatalf("prune failed: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded != nil {
		t.Errorf("expected all rows pruned, got %d assets", len(loaded))
	}
}
