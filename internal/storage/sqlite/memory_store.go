// Package sqlite implements the memory repository on SQLite, the local
// desktop deployment backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/council/internal/storage"
	"github.com/scrypster/council/pkg/types"
)

// MemoryRepository implements storage.MemoryRepository using SQLite.
type MemoryRepository struct {
	db *sql.DB
}

// NewMemoryRepository opens a SQLite database with WAL self-healing. If the
// initial open fails because of stale WAL files left behind by a crashed
// process, the stale -shm/-wal files are removed and the open retried once.
func NewMemoryRepository(dsn string) (*MemoryRepository, error) {
	repo, err := openRepository(dsn)
	if err == nil {
		return repo, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}
	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" {
		return nil, err
	}
	removeStaleWAL(dbPath)

	repo, retryErr := openRepository(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return repo, nil
}

// openRepository opens the database, configures WAL mode, and applies the
// schema.
func openRepository(dsn string) (*MemoryRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &MemoryRepository{db: db}, nil
}

func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "malformed")
}

// dbPathFromDSN extracts the filesystem path from a sqlite DSN, which may
// carry file: prefixes and query parameters.
func dbPathFromDSN(dsn string) string {
	trimmed := strings.TrimPrefix(dsn, "file:")
	if u, err := url.Parse(trimmed); err == nil && u.Path != "" {
		return u.Path
	}
	if i := strings.IndexByte(trimmed, '?'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove %s%s: %v", dbPath, suffix, err)
		}
	}
}

const memoryColumns = `id, character_id, content, category, importance, embedding,
	timestamp, created_at, updated_at, access_count, last_accessed_at,
	decay_rate, content_hash, metadata`

// Create inserts a new record.
func (r *MemoryRepository) Create(ctx context.Context, rec *types.MemoryRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record with id is required", storage.ErrInvalidInput)
	}
	if rec.CharacterID == "" {
		return fmt.Errorf("%w: character id is required", storage.ErrInvalidInput)
	}
	if rec.Content == "" {
		return fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	metadataJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO memories (` + memoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		rec.CharacterID,
		rec.Content,
		string(rec.Category),
		types.ImportanceToScale(rec.Importance),
		encodeEmbedding(rec.Embedding),
		rec.Timestamp,
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.AccessCount,
		nullableTime(rec.LastAccessed),
		rec.DecayRate,
		rec.ContentHash,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert memory: %w", err)
	}
	return nil
}

// Get retrieves a record by id.
func (r *MemoryRepository) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return rec, err
}

// GetMany retrieves records by id, preserving input order and skipping
// missing ids.
func (r *MemoryRepository) GetMany(ctx context.Context, ids []string) ([]*types.MemoryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query memories: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*types.MemoryRecord, len(ids))
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		byID[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate memories: %w", err)
	}

	out := make([]*types.MemoryRecord, 0, len(byID))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListByCharacter returns the character's records newest first.
func (r *MemoryRepository) ListByCharacter(ctx context.Context, characterID string, f storage.ListFilter) ([]*types.MemoryRecord, error) {
	if characterID == "" {
		return nil, fmt.Errorf("%w: character id is required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + memoryColumns + ` FROM memories WHERE character_id = ?`
	args := []any{characterID}

	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(f.Category))
	}
	if f.MinImportance > 0 {
		query += ` AND importance >= ?`
		args = append(args, types.ImportanceToScale(f.MinImportance))
	}
	if !f.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, f.Until)
	}
	query += ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list memories: %w", err)
	}
	defer rows.Close()

	var out []*types.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate memories: %w", err)
	}
	return out, nil
}

// CountByCharacter returns the character's total record count.
func (r *MemoryRepository) CountByCharacter(ctx context.Context, characterID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE character_id = ?`, characterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count memories: %w", err)
	}
	return n, nil
}

// Update rewrites a record in place.
func (r *MemoryRepository) Update(ctx context.Context, rec *types.MemoryRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record with id is required", storage.ErrInvalidInput)
	}

	metadataJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE memories SET
			content = ?, category = ?, importance = ?, embedding = ?,
			timestamp = ?, updated_at = ?, access_count = ?,
			last_accessed_at = ?, decay_rate = ?, content_hash = ?,
			metadata = ?
		WHERE id = ?`,
		rec.Content,
		string(rec.Category),
		types.ImportanceToScale(rec.Importance),
		encodeEmbedding(rec.Embedding),
		rec.Timestamp,
		rec.UpdatedAt,
		rec.AccessCount,
		nullableTime(rec.LastAccessed),
		rec.DecayRate,
		rec.ContentHash,
		metadataJSON,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update memory: %w", err)
	}
	return requireRowAffected(result)
}

// Delete removes a record permanently.
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete memory: %w", err)
	}
	return requireRowAffected(result)
}

// IncrementAccess bumps access telemetry for the given ids in one batch.
func (r *MemoryRepository) IncrementAccess(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{at}
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE memories
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: increment access: %w", err)
	}
	return nil
}

// UpdateImportances applies a batch of importance writes in one transaction.
func (r *MemoryRepository) UpdateImportances(ctx context.Context, importances map[string]float64) error {
	if len(importances) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin importance batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE memories SET importance = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare importance update: %w", err)
	}
	defer stmt.Close()

	for id, importance := range importances {
		if _, err := stmt.ExecContext(ctx, types.ImportanceToScale(importance), id); err != nil {
			return fmt.Errorf("sqlite: update importance for %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit importance batch: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (r *MemoryRepository) Close() error {
	return r.db.Close()
}

// DB exposes the underlying handle for diagnostics.
func (r *MemoryRepository) DB() *sql.DB {
	return r.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*types.MemoryRecord, error) {
	var (
		rec          types.MemoryRecord
		category     string
		importance   int
		embedding    []byte
		lastAccessed sql.NullTime
		metadataJSON sql.NullString
	)

	err := row.Scan(
		&rec.ID,
		&rec.CharacterID,
		&rec.Content,
		&category,
		&importance,
		&embedding,
		&rec.Timestamp,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.AccessCount,
		&lastAccessed,
		&rec.DecayRate,
		&rec.ContentHash,
		&metadataJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: scan memory: %w", err)
	}

	rec.Category = types.Category(category)
	rec.Importance = types.ImportanceFromScale(importance)
	rec.Embedding = decodeEmbedding(embedding)
	if lastAccessed.Valid {
		t := lastAccessed.Time
		rec.LastAccessed = &t
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		var md types.Metadata
		if err := json.Unmarshal([]byte(metadataJSON.String), &md); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal metadata for %s: %w", rec.ID, err)
		}
		rec.Metadata = &md
	}
	return &rec, nil
}

func marshalMetadata(md *types.Metadata) (sql.NullString, error) {
	if md == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("sqlite: marshal metadata: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// encodeEmbedding serialises a vector as little-endian float32 bytes.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
