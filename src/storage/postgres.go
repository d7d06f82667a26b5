package storage

import (
	"database/sql"
	"fmt"
	"time"

	"coinwatch/src/logger"
	"coinwatch/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Entry
}

// -----------------------------------------------------------------------------

func NewPostgresStore(cfg *models.MConfig, log *logger.Log) (*PostgresStore, error) {
	return &PostgresStore{
		Config: cfg,
		Logger: log.WithComponent("storage"),
	}, nil
}

// -----------------------------------------------------------------------------

func (s *PostgresStore) Initialize() error {
	db, err := sql.Open("postgres", s.Config.Storage.DBConnectionString)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	s.DB = db
	return s.createTables()
}

// -----------------------------------------------------------------------------

func (s *PostgresStore) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS asset_metrics (
			timestamp BIGINT,
			symbol TEXT,
			code TEXT,
			name TEXT,
			full_name TEXT,
			holders DOUBLE PRECISION,
			circulation DOUBLE PRECISION,
			circulation_change_percent DOUBLE PRECISION,
			holder_influence DOUBLE PRECISION,
			trader_influence DOUBLE PRECISION,
			purity DOUBLE PRECISION,
			PRIMARY KEY (symbol, timestamp)
		);
	`
	if _, err := s.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create asset_metrics: %w", err)
	}

	query = `
		CREATE TABLE IF NOT EXISTS last_update (
			id INT PRIMARY KEY CHECK (id = 1),
			updated_at BIGINT,
			row_count BIGINT
		);
	`
	if _, err := s.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create last_update: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (s *PostgresStore) Save(snapshot models.MSnapshot) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (symbol, timestamp) DO NOTHING
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
		VALUES (1, $1, (SELECT COUNT(*) FROM asset_metrics))
		ON CONFLICT (id) DO UPDATE SET
			updated_at = EXCLUDED.updated_at,
			row_count = EXCLUDED.row_count
	`
	if _, err := tx.Exec(marker, now); err != nil {
		return err
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (s *PostgresStore) Load() (models.MSnapshot, error) {
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

func (s *PostgresStore) Prune(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).Unix()

	if _, err := s.DB.Exec("DELETE FROM asset_metrics WHERE timestamp < $1", cutoff); err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	s.Logger.WithFields(logger.Fields{"cutoff": cutoff}).Info("pruned snapshot history")
	return nil
}

// -----------------------------------------------------------------------------

func (s *PostgresStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}
