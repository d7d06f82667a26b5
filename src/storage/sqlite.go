package storage

import (
	"database/sql"
	"fmt"
	"time"

	"coinwatch/src/logger"
	"coinwatch/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type SQLiteStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Entry
}

// -----------------------------------------------------------------------------

func NewSQLiteStore(cfg *models.MConfig, log *logger.Log) (*SQLiteStore, error) {
	return &SQLiteStore{
		Config: cfg,
		Logger: log.WithComponent("storage"),
	}, nil
}

// -----------------------------------------------------------------------------

func (s *SQLiteStore) Initialize() error {
	db, err := sql.Open("sqlite", s.Config.Storage.DBPath)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	s.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		s.Logger.WithError(err).Warn("failed to set WAL mode")
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		s.Logger.WithError(err).Warn("failed to set synchronous mode")
	}

	return s.createTables()
}

// -----------------------------------------------------------------------------

func (s *SQLiteStore) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS asset_metrics (
			timestamp INTEGER,
			symbol TEXT,
			code TEXT,
			name TEXT,
			full_name TEXT,
			holders REAL,
			circulation REAL,
			circulation_change_percent REAL,
			holder_influence REAL,
			trader_influence REAL,
			purity REAL,
			PRIMARY KEY (symbol, timestamp)
		);
	`
	if _, err := s.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create asset_metrics: %w", err)
	}

	query = `
		CREATE TABLE IF NOT EXISTS last_update (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			updated_at INTEGER,
			row_count INTEGER
		);
	`
	if _, err := s.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create last_update: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (s *SQLiteStore) Save(snapshot models.MSnapshot) error {
	if len(snapshot) == 0 {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO asset_metrics (timestamp, symbol, code, name, full_name,
			holders, circulation, circulation_change_percent, holder_influence, trader_influence, purity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for symbol, m := range snapshot {
		_, err := stmt.Exec(now, symbol, m.Code, m.Name, m.FullName,
			nullable(m.Holders), nullable(m.Circulation), nullable(m.CirculationChangePercent),
			nullable(m.HolderInfluence), nullable(m.TraderInfluence), nullable(m.Purity))
		if err != nil {
			return err
		}
	}

	marker := `
		INSERT INTO last_update (id, updated_at, row_count)
		VALUES (1, ?, (SELECT COUNT(*) FROM asset_metrics))
		ON CONFLICT (id) DO UPDATE SET
			updated_at = excluded.updated_at,
			row_count = excluded.row_count
	`
	if _, err := tx.Exec(marker, now); err != nil {
		return err
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (s *SQLiteStore) Load() (models.MSnapshot, error) {
	rows, err := s.DB.Query(`
		SELECT symbol, code, name, full_name,
			holders, circulation, circulation_change_percent, holder_influence, trader_influence, purity
		FROM asset_metrics
		WHERE timestamp = (SELECT MAX(timestamp) FROM asset_metrics)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshot := make(models.MSnapshot)
	for rows.Next() {
		var m models.MAssetMetrics
		var holders, circulation, circChange, holderInf, traderInf, purity sql.NullFloat64

		if err := rows.Scan(&m.Symbol, &m.Code, &m.Name, &m.FullName,
			&holders, &circulation, &circChange, &holderInf, &traderInf, &purity); err != nil {
			return nil, err
		}

		m.Holders = fromNullable(holders)
		m.Circulation = fromNullable(circulation)
		m.CirculationChangePercent = fromNullable(circChange)
		m.HolderInfluence = fromNullable(holderInf)
		m.TraderInfluence = fromNullable(traderInf)
		m.Purity = fromNullable(purity)
		snapshot[m.Symbol] = &m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(snapshot) == 0 {
		return nil, nil
	}

	return snapshot, nil
}

// -----------------------------------------------------------------------------

func (s *SQLiteStore) Prune(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).Unix()

	if _, err := s.DB.Exec("DELETE FROM asset_metrics WHERE timestamp < ?", cutoff); err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	s.Logger.WithFields(logger.Fields{"cutoff": cutoff}).Info("pruned snapshot history")
	return nil
}

// -----------------------------------------------------------------------------

func (s *SQLiteStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
