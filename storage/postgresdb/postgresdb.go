// Package postgresdb is a pgx-backed execute.Database adapter: every
// committed batch is applied as one upsert-per-request transaction
// against a single YCSB-shaped key/value table, grounded on the
// teacher's SQLDB (storage/postgres.go).
package postgresdb

import (
	"context"
	"crypto/sha256"
	"strconv"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"hotstuff/configs"
	"hotstuff/execute"
)

type PostgresDB struct {
	ctx  context.Context
	pool *pgxpool.Pool
}

// Open connects to dsn and creates the backing table if absent. Unlike
// the teacher's SQLDB.init, this never forces server-wide settings
// (max_connections, fsync) -- those are deployment concerns, not this
// adapter's to dictate.
func Open(ctx context.Context, dsn string) (*PostgresDB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	db := &PostgresDB{ctx: ctx, pool: pool}
	if _, err := pool.Exec(ctx, "CREATE TABLE IF NOT EXISTS hotstuff_applied "+
		"(k VARCHAR(64) PRIMARY KEY, v BYTEA)"); err != nil {
		return nil, err
	}
	return db, nil
}

// Apply runs the whole batch inside one SQL transaction so a crash
// mid-batch never leaves a partially-applied committed batch (§4.4
// "Applying a batch is atomic from the caller's perspective").
func (db *PostgresDB) Apply(txnID uint64, reqs []execute.Request) ([]byte, error) {
	tx, err := db.pool.BeginTx(db.ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	for _, r := range reqs {
		key := strconv.FormatUint(r.ClientID, 10) + ":" + strconv.FormatUint(r.SeqNo, 10)
		if _, err := tx.Exec(db.ctx, "INSERT INTO hotstuff_applied (k, v) VALUES ($1, $2) "+
			"ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v", key, r.Payload); err != nil {
			_ = tx.Rollback(db.ctx)
			return nil, err
		}
		h.Write(r.Payload)
	}
	if err := tx.Commit(db.ctx); err != nil {
		return nil, err
	}
	configs.TPrintf("postgresdb: applied batch txn_id=%d requests=%d", txnID, len(reqs))
	return h.Sum(nil), nil
}

func (db *PostgresDB) Close() {
	db.pool.Close()
}
