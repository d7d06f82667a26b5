package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"coinwatch/src/helpers"
	"coinwatch/src/logger"
	"coinwatch/src/models"
)

// -----------------------------------------------------------------------------
// CSV Store
// -----------------------------------------------------------------------------
// Append-only log: one row per (timestamp, symbol) with all metric columns,
// plus a sidecar marker file holding the most recent write time and total row
// count. The layout is a published contract consumed by external tooling, so
// columns are fixed.

var csvHeader = []string{
	"timestamp", "symbol", "code", "name", "full_name",
	"holders", "circulation", "circulation_change_percent",
	"holder_influence", "trader_influence", "purity",
}

type CSVStore struct {
	Config *models.MConfig
	Logger *logger.Entry
	path   string
}

// -----------------------------------------------------------------------------

func NewCSVStore(cfg *models.MConfig, log *logger.Log) (*CSVStore, error) {
	return &CSVStore{
		Config: cfg,
		Logger: log.WithComponent("storage"),
		path:   cfg.Storage.DBPath,
	}, nil
}

// -----------------------------------------------------------------------------

func (s *CSVStore) Initialize() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create storage dir: %w", err)
	}

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		f, err := os.Create(s.path)
		if err != nil {
			return fmt.Errorf("failed to create snapshot log: %w", err)
		}
		defer f.Close()

		w := csv.NewWriter(f)
		if err := w.Write(csvHeader); err != nil {
			return err
		}
		w.Flush()
		return w.Error()
	}
	return nil
}

// -----------------------------------------------------------------------------

// Save appends one row per asset, all stamped with the same write time, then
// refreshes the sidecar marker.
func (s *CSVStore) Save(snapshot models.MSnapshot) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return &helpers.StorageError{
			CoinwatchError: helpers.CoinwatchError{Message: "failed to open snapshot log", Cause: err},
		}
	}
	defer f.Close()

	now := time.Now().Unix()
	w := csv.NewWriter(f)
	for symbol, m := range snapshot {
		row := []string{
			strconv.FormatInt(now, 10),
			symbol,
			m.Code,
			m.Name,
			m.FullName,
			formatMetric(m.Holders),
			formatMetric(m.Circulation),
			formatMetric(m.CirculationChangePercent),
			formatMetric(m.HolderInfluence),
			formatMetric(m.TraderInfluence),
			formatMetric(m.Purity),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	rows, err := s.countRows()
	if err != nil {
		return err
	}
	return s.writeMarker(time.Unix(now, 0), rows)
}

// -----------------------------------------------------------------------------

// Load rebuilds the latest snapshot: all rows carrying the maximum timestamp.
func (s *CSVStore) Load() (models.MSnapshot, error) {
	rows, err := s.readRows()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var maxTs int64
	for _, row := range rows {
		if ts, err := strconv.ParseInt(row[0], 10, 64); err == nil && ts > maxTs {
			maxTs = ts
		}
	}

	snapshot := make(models.MSnapshot)
	for _, row := range rows {
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil || ts != maxTs {
			continue
		}
		snapshot[row[1]] = &models.MAssetMetrics{
			Symbol:                   row[1],
			Code:                     row[2],
			Name:                     row[3],
			FullName:                 row[4],
			Holders:                  parseMetric(row[5]),
			Circulation:              parseMetric(row[6]),
			CirculationChangePercent: parseMetric(row[7]),
			HolderInfluence:          parseMetric(row[8]),
			TraderInfluence:          parseMetric(row[9]),
			Purity:                   parseMetric(row[10]),
		}
	}

	s.Logger.WithFields(logger.Fields{"assets": len(snapshot), "timestamp": maxTs}).
		Info("loaded persisted snapshot")
	return snapshot, nil
}

// -----------------------------------------------------------------------------

// Prune rewrites the log keeping only rows newer than the cutoff. The rewrite
// goes through a temp file and an atomic rename.
func (s *CSVStore) Prune(olderThan time.Duration) error {
	rows, err := s.readRows()
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-olderThan).Unix()
	kept := rows[:0]
	for _, row := range rows {
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil || ts < cutoff {
			continue
		}
		kept = append(kept, row)
	}

	tmpPath := s.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp log: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(kept); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to swap pruned log: %w", err)
	}

	s.Logger.WithFields(logger.Fields{"kept": len(kept), "dropped": len(rows) - len(kept)}).
		Info("pruned snapshot log")
	return s.writeMarker(time.Now(), len(kept))
}

// -----------------------------------------------------------------------------

func (s *CSVStore) Close() error {
	return nil
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

func (s *CSVStore) readRows() ([][]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open snapshot log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(csvHeader)
	all, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot log: %w", err)
	}
	if len(all) <= 1 {
		return nil, nil
	}
	return all[1:], nil // skip header
}

func (s *CSVStore) countRows() (int, error) {
	rows, err := s.readRows()
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// writeMarker refreshes the sidecar "last update" file.
func (s *CSVStore) writeMarker(at time.Time, rowCount int) error {
	marker := fmt.Sprintf("%s,%d\n", at.UTC().Format(time.RFC3339), rowCount)
	return os.WriteFile(s.markerPath(), []byte(marker), 0644)
}

func (s *CSVStore) markerPath() string {
	return s.path + ".meta"
}

// -----------------------------------------------------------------------------

func formatMetric(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseMetric(cell string) *float64 {
	if cell == "" {
		return nil
	}
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return nil
	}
	return &f
}
