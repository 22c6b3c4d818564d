// Package store keeps run results in a SQLite file: one row per run, per
// block, per ranked feature and per partial dependence point.
package store

import (
	"context"
	"database/sql"
	"embed"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/YuminosukeSato/crashforest/analysis"
	"github.com/YuminosukeSato/crashforest/inspection"
	"github.com/YuminosukeSato/crashforest/pkg/errors"
	"github.com/YuminosukeSato/crashforest/pkg/log"
)

//go:embed sql/*
var ddl embed.FS

const (
	insertRunSQL = `INSERT INTO run (input, started_at, seed, row_count, train_rows, test_rows)
		VALUES (?, ?, ?, ?, ?, ?)`
	insertBlockSQL = `INSERT INTO block (run_id, response, trees, mtry, features, train_rows, test_rows,
		oob_mse, var_explained, test_mse, test_r2, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertImportanceSQL = `INSERT INTO importance (run_id, response, kind, rank, feature, value)
		VALUES (?, ?, ?, ?, ?, ?)`
	insertPartialSQL = `INSERT INTO partial_dependence (run_id, response, feature, point, value, average)
		VALUES (?, ?, ?, ?, ?, ?)`
	selectRunsSQL = `SELECT r.id, r.input, r.started_at, r.seed, r.row_count, COUNT(b.response)
		FROM run r LEFT JOIN block b ON b.run_id = r.id
		GROUP BY r.id ORDER BY r.id`
	selectBlocksSQL = `SELECT response, trees, mtry, oob_mse, var_explained, test_mse, test_r2
		FROM block WHERE run_id = ? ORDER BY rowid`
)

// Importance kinds stored in the importance table.
const (
	KindNodePurity  = "node_purity"
	KindPermutation = "permutation"
)

// Store is an open results database.
type Store struct {
	db     *sql.DB
	logger log.Logger
}

// Run is one stored run.
type Run struct {
	ID        int64
	Input     string
	StartedAt time.Time
	Seed      uint64
	Rows      int
	Blocks    int
}

// BlockRow is the stored headline of one block.
type BlockRow struct {
	Response     string
	Trees        int
	Mtry         int
	OOBMSE       float64
	VarExplained float64
	TestMSE      float64
	TestR2       float64
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.NewValidationError("path", "must not be empty", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "store: open %s", path)
	}
	// sqlite は単一ライタなので接続を1本に絞る
	db.SetMaxOpenConns(1)

	b, err := ddl.ReadFile("sql/ddl.sql")
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: read schema")
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: enable foreign keys")
	}
	if _, err := db.Exec(string(b)); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "store: create schema in %s", path)
	}

	s := &Store{db: db, logger: log.GetLoggerWithName("store")}
	s.logger.Debug("results store opened", log.PathKey, path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes the report in one transaction and returns the run id.
func (s *Store) SaveRun(ctx context.Context, r *analysis.Report) (id int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "store: begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("rollback failed", "error", rbErr)
			}
		}
	}()

	res, err := tx.ExecContext(ctx, insertRunSQL,
		r.Input, r.StartedAt.UTC().Format(time.RFC3339Nano), int64(r.Seed), r.Rows, r.TrainRows, r.TestRows)
	if err != nil {
		return 0, errors.Wrap(err, "store: insert run")
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, errors.Wrap(err, "store: run id")
	}

	stmts := map[string]*sql.Stmt{}
	for name, q := range map[string]string{
		"block": insertBlockSQL, "importance": insertImportanceSQL, "partial": insertPartialSQL,
	} {
		st, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return 0, errors.Wrapf(err, "store: prepare %s insert", name)
		}
		defer st.Close()
		stmts[name] = st
	}

	for _, b := range r.Blocks {
		if _, err = stmts["block"].ExecContext(ctx, id, b.Response, b.Trees, b.Mtry, b.Features,
			b.TrainRows, b.TestRows, nullable(b.OOBMSE), nullable(b.VarExplained),
			nullable(b.TestMSE), nullable(b.TestR2), b.Duration.Milliseconds()); err != nil {
			return 0, errors.Wrapf(err, "store: insert block %s", b.Response)
		}
		for kind, ranked := range map[string][]inspection.Importance{
			KindNodePurity:  b.Importances,
			KindPermutation: b.Permutation,
		} {
			for _, imp := range ranked {
				if _, err = stmts["importance"].ExecContext(ctx, id, b.Response, kind, imp.Rank, imp.Name, nullable(imp.Value)); err != nil {
					return 0, errors.Wrapf(err, "store: insert importance %s/%s", b.Response, imp.Name)
				}
			}
		}
		for _, pd := range b.Partial {
			for i := range pd.Grid {
				if _, err = stmts["partial"].ExecContext(ctx, id, b.Response, pd.Name, i, pd.Grid[i], nullable(pd.Average[i])); err != nil {
					return 0, errors.Wrapf(err, "store: insert partial dependence %s/%s", b.Response, pd.Name)
				}
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "store: commit")
	}
	s.logger.Info("run stored", "run_id", id, "blocks", len(r.Blocks))
	return id, nil
}

// Runs lists stored runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, selectRunsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "store: query runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			started string
			seed    int64
		)
		if err := rows.Scan(&r.ID, &r.Input, &started, &seed, &r.Rows, &r.Blocks); err != nil {
			return nil, errors.Wrap(err, "store: scan run")
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, errors.Wrapf(err, "store: run %d start time", r.ID)
		}
		r.Seed = uint64(seed)
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "store: iterate runs")
}

// Blocks returns the block headlines of one run in insertion order.
func (s *Store) Blocks(ctx context.Context, runID int64) ([]BlockRow, error) {
	rows, err := s.db.QueryContext(ctx, selectBlocksSQL, runID)
	if err != nil {
		return nil, errors.Wrap(err, "store: query blocks")
	}
	defer rows.Close()

	var out []BlockRow
	for rows.Next() {
		var (
			b                BlockRow
			oob, ve, mse, r2 sql.NullFloat64
		)
		if err := rows.Scan(&b.Response, &b.Trees, &b.Mtry, &oob, &ve, &mse, &r2); err != nil {
			return nil, errors.Wrap(err, "store: scan block")
		}
		b.OOBMSE, b.VarExplained, b.TestMSE, b.TestR2 = value(oob), value(ve), value(mse), value(r2)
		out = append(out, b)
	}
	return out, errors.Wrap(rows.Err(), "store: iterate blocks")
}

// nullable stores NaN as NULL.
func nullable(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func value(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
