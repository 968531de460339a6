package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/glebarez/sqlite"

	"oraclecheck/decoder"
	"oraclecheck/deployments"
)

// Storage wraps the oracleverifyd persistence layer.
type Storage struct {
	db *sql.DB
}

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("oracleverifyd storage path must be configured")

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveDeployments implements deployments.Store. Deployments and the advanced
// cursor are written in one transaction.
func (s *Storage) SaveDeployments(ctx context.Context, chainID uint64, batch []deployments.Deployment, cursor uint64) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, d := range batch {
		calldata, err := decoder.Encode(d.Config)
		if err != nil {
			return fmt.Errorf("encode deployment %s: %w", d.Oracle.Hex(), err)
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO deployments(chain_id, oracle, caller, tx_hash, block_number, fingerprint, calldata, recorded_at)
            VALUES(?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(chain_id, oracle) DO NOTHING
        `, chainID, strings.ToLower(d.Oracle.Hex()), strings.ToLower(d.Caller.Hex()), d.TxHash.Hex(),
			d.BlockNumber, d.Fingerprint.Hex(), calldata, time.Now().UTC()); err != nil {
			return fmt.Errorf("insert deployment: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO scan_cursor(chain_id, next_block, updated_at)
        VALUES(?, ?, ?)
        ON CONFLICT(chain_id) DO UPDATE SET next_block = excluded.next_block, updated_at = excluded.updated_at
    `, chainID, cursor, time.Now().UTC()); err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Cursor implements deployments.Store.
func (s *Storage) Cursor(ctx context.Context, chainID uint64) (uint64, bool, error) {
	if s == nil {
		return 0, false, fmt.Errorf("storage not configured")
	}
	var next uint64
	err := s.db.QueryRowContext(ctx, `SELECT next_block FROM scan_cursor WHERE chain_id = ?`, chainID).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query cursor: %w", err)
	}
	return next, true, nil
}

// Deployments implements deployments.Store.
func (s *Storage) Deployments(ctx context.Context, chainID uint64) ([]deployments.Deployment, error) {
	return s.queryDeployments(ctx, `
        SELECT chain_id, oracle, caller, tx_hash, block_number, calldata
        FROM deployments
        WHERE chain_id = ?
        ORDER BY block_number ASC, id ASC
    `, chainID)
}

// DeploymentsByFingerprint implements deployments.Store.
func (s *Storage) DeploymentsByFingerprint(ctx context.Context, chainID uint64, fp deployments.Fingerprint) ([]deployments.Deployment, error) {
	return s.queryDeployments(ctx, `
        SELECT chain_id, oracle, caller, tx_hash, block_number, calldata
        FROM deployments
        WHERE chain_id = ? AND fingerprint = ?
        ORDER BY block_number ASC, id ASC
    `, chainID, fp.Hex())
}

func (s *Storage) queryDeployments(ctx context.Context, query string, args ...any) ([]deployments.Deployment, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer rows.Close()
	out := make([]deployments.Deployment, 0)
	for rows.Next() {
		var (
			d                      deployments.Deployment
			oracle, caller, txHash string
			calldata               []byte
		)
		if err := rows.Scan(&d.ChainID, &oracle, &caller, &txHash, &d.BlockNumber, &calldata); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		configs, err := decoder.Decode(calldata)
		if err != nil || len(configs) != 1 {
			return nil, fmt.Errorf("stored deployment %s: corrupt calldata", oracle)
		}
		d.Oracle = common.HexToAddress(oracle)
		d.Caller = common.HexToAddress(caller)
		d.TxHash = common.HexToHash(txHash)
		d.Config = configs[0]
		d.Fingerprint = deployments.FingerprintOf(d.Config)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return out, nil
}

// Run is the persisted summary of one verification run.
type Run struct {
	ID         string
	SessionID  string
	ChainID    uint64
	Collateral string
	Loan       string
	Verdicts   map[string]string
	StartedAt  time.Time
	FinishedAt time.Time
}

// RecordRun stores a completed verification run.
func (s *Storage) RecordRun(ctx context.Context, run Run) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	verdicts, err := json.Marshal(run.Verdicts)
	if err != nil {
		return fmt.Errorf("encode verdicts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO verification_runs(id, session_id, chain_id, collateral, loan, verdicts, started_at, finished_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?)
    `, run.ID, run.SessionID, run.ChainID, run.Collateral, run.Loan, string(verdicts), run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs of a session, newest first.
func (s *Storage) RecentRuns(ctx context.Context, sessionID string, limit int) ([]Run, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, session_id, chain_id, collateral, loan, verdicts, started_at, finished_at
        FROM verification_runs
        WHERE session_id = ?
        ORDER BY finished_at DESC
        LIMIT ?
    `, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	runs := make([]Run, 0)
	for rows.Next() {
		var (
			run      Run
			verdicts string
		)
		if err := rows.Scan(&run.ID, &run.SessionID, &run.ChainID, &run.Collateral, &run.Loan, &verdicts, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(verdicts), &run.Verdicts); err != nil {
			return nil, fmt.Errorf("decode verdicts: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS deployments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chain_id INTEGER NOT NULL,
    oracle TEXT NOT NULL,
    caller TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    block_number INTEGER NOT NULL,
    fingerprint TEXT NOT NULL,
    calldata BLOB NOT NULL,
    recorded_at TIMESTAMP NOT NULL,
    UNIQUE(chain_id, oracle)
);
CREATE INDEX IF NOT EXISTS idx_deployments_fingerprint ON deployments(chain_id, fingerprint);

CREATE TABLE IF NOT EXISTS scan_cursor (
    chain_id INTEGER PRIMARY KEY,
    next_block INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS verification_runs (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    chain_id INTEGER NOT NULL,
    collateral TEXT NOT NULL,
    loan TEXT NOT NULL,
    verdicts TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_session ON verification_runs(session_id, finished_at);
`
