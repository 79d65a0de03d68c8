// Package filerepo implements the authoritative file repository: a
// transactional, single-writer SQLite store holding the current revision
// of every live identity plus an append-only history log, with optimistic
// concurrency keyed on a per-identity version counter (spec §4.2).
package filerepo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, registers as "sqlite"

	"github.com/schwartzmorn/kodiproxy-go/internal/apperror"
	"github.com/schwartzmorn/kodiproxy-go/internal/historylog"
)

const walJournalSizeLimit = 67108864 // 64 MiB, same ceiling the teacher uses

// Revision is the public shape returned by every mutating and by Get.
type Revision struct {
	Version   uint32
	Timestamp time.Time
	Hash      string
	Content   []byte
}

// Store is the authoritative repository. All operations serialize through
// a single exclusive lock (spec §5: "Readers share the same lock, no
// read/write split is assumed").
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex

	stmts statements
}

type statements struct {
	getCurrent    *sql.Stmt
	upsertCurrent *sql.Stmt
	deleteCurrent *sql.Stmt
	maxHistory    *sql.Stmt
	insertHistory *sql.Stmt
	selectHistory *sql.Stmt
}

// Open opens (creating if absent) the authoritative store rooted at
// rootDir/file_repository.db3, per spec §6. rootDir is created if it does
// not exist; Open fails if rootDir exists and is not a directory.
func Open(ctx context.Context, rootDir string, logger *slog.Logger) (*Store, error) {
	info, err := os.Stat(rootDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(rootDir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("filerepo: creating root dir %q: %w", rootDir, mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("filerepo: statting root dir %q: %w", rootDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("filerepo: root path %q exists and is not a directory", rootDir)
	}

	dbPath := filepath.Join(rootDir, "file_repository.db3")
	logger.Info("opening authoritative file store", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("filerepo: opening sqlite at %q: %w", dbPath, err)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("filerepo: preparing statements: %w", err)
	}

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("filerepo: setting pragma %q: %w", p, err)
		}
	}

	return nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	defs := []struct {
		dest **sql.Stmt
		sql  string
	}{
		{&s.stmts.getCurrent, `SELECT version, timestamp, hash, content FROM FILES WHERE path = ? AND name = ?`},
		{&s.stmts.upsertCurrent, `INSERT INTO FILES (path, name, version, timestamp, hash, content)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(path, name) DO UPDATE SET
				version = excluded.version,
				timestamp = excluded.timestamp,
				hash = excluded.hash,
				content = excluded.content`},
		{&s.stmts.deleteCurrent, `DELETE FROM FILES WHERE path = ? AND name = ?`},
		{&s.stmts.maxHistory, `SELECT MAX(version) FROM FILES_HISTORY WHERE path = ? AND name = ?`},
		{&s.stmts.insertHistory, `INSERT INTO FILES_HISTORY
			(path, name, version, timestamp, operation, ip_address, hash, old_or_new_path, content)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&s.stmts.selectHistory, `SELECT version, timestamp, operation, ip_address, hash, old_or_new_path, content
			FROM FILES_HISTORY WHERE path = ? AND name = ? ORDER BY version ASC`},
	}

	for _, d := range defs {
		stmt, err := s.db.PrepareContext(ctx, d.sql)
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}

		*d.dest = stmt
	}

	return nil
}

// Close closes all prepared statements and the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmts := []*sql.Stmt{
		s.stmts.getCurrent, s.stmts.upsertCurrent, s.stmts.deleteCurrent,
		s.stmts.maxHistory, s.stmts.insertHistory, s.stmts.selectHistory,
	}

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				s.logger.Error("filerepo: error closing statement", slog.String("error", err.Error()))
			}
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("filerepo: closing database: %w", err)
	}

	return nil
}

// Checkpoint truncates the WAL file. Operationally useful for backups; not
// required for correctness.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("filerepo: wal checkpoint: %w", err)
	}

	return nil
}

// currentRow is the scanned shape of a FILES row.
type currentRow struct {
	version   uint32
	timestamp time.Time
	hash      string
	content   []byte
}

func (s *Store) getCurrentTx(ctx context.Context, tx *sql.Tx, path, name string) (*currentRow, error) {
	var (
		version uint32
		ts      string
		hash    string
		content []byte
	)

	row := tx.StmtContext(ctx, s.stmts.getCurrent).QueryRowContext(ctx, path, name)

	err := row.Scan(&version, &ts, &hash, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("scanning current row: %w", err)
	}

	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil, fmt.Errorf("parsing current row timestamp: %w", err)
	}

	return &currentRow{version: version, timestamp: t, hash: hash, content: content}, nil
}

func (s *Store) maxHistoryVersionTx(ctx context.Context, tx *sql.Tx, path, name string) (*uint32, error) {
	var v sql.NullInt64

	row := tx.StmtContext(ctx, s.stmts.maxHistory).QueryRowContext(ctx, path, name)
	if err := row.Scan(&v); err != nil {
		return nil, fmt.Errorf("scanning max history version: %w", err)
	}

	if !v.Valid {
		return nil, nil
	}

	u := uint32(v.Int64)

	return &u, nil
}

// nextVersion resolves Open Question 1 (spec §9 / SPEC_FULL §4.2): when the
// identity is currently live, the new version continues the live counter.
// When it is not (first write after a tombstone, or ever), the new version
// continues the history counter instead, so a resurrected identity never
// collides with its own prior versions. Both formulas are intentional, not
// a bug to reconcile away.
func nextVersion(isLive bool, currentVersion uint32, maxHistoryVersion *uint32) uint32 {
	if isLive {
		return currentVersion + 1
	}

	if maxHistoryVersion == nil {
		return 0
	}

	return *maxHistoryVersion + 1
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// joinIdentity renders (path, name) as the single slash-joined string used
// in wire payloads (pathTo/pathFrom) and history-entry rendering.
func joinIdentity(path, name string) string {
	if path == "" {
		return name
	}

	return path + "/" + name
}

// Get returns the current revision for (path, name). wantContent=false
// omits the blob from the result (still performs the same read; callers
// that truly need to avoid the I/O should use HEAD semantics upstream of
// this call).
func (s *Store) Get(ctx context.Context, path, name string, wantContent bool) (*Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.getCurrentNoTx(ctx, path, name)
	if err != nil {
		return nil, err
	}

	if row == nil {
		return nil, apperror.Errorf(apperror.KindNotFound, "no current revision for %q", joinIdentity(path, name))
	}

	rev := &Revision{Version: row.version, Timestamp: row.timestamp, Hash: row.hash}
	if wantContent {
		rev.Content = row.content
	}

	return rev, nil
}

func (s *Store) getCurrentNoTx(ctx context.Context, path, name string) (*currentRow, error) {
	var (
		version uint32
		ts      string
		hash    string
		content []byte
	)

	row := s.stmts.getCurrent.QueryRowContext(ctx, path, name)

	err := row.Scan(&version, &ts, &hash, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("filerepo: scanning current row: %w", err)
	}

	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil, fmt.Errorf("filerepo: parsing current row timestamp: %w", err)
	}

	return &currentRow{version: version, timestamp: t, hash: hash, content: content}, nil
}

// GetHistory returns the full ordered history for (path, name). An empty
// history is never returned as a valid value — spec §4.2 requires NotFound.
func (s *Store) GetHistory(ctx context.Context, path, name string) (historylog.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.stmts.selectHistory.QueryContext(ctx, path, name)
	if err != nil {
		return nil, fmt.Errorf("filerepo: querying history for %q: %w", joinIdentity(path, name), err)
	}
	defer rows.Close()

	var log historylog.Log

	for rows.Next() {
		e, err := scanHistoryRow(rows)
		if err != nil {
			return nil, err
		}

		log = append(log, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("filerepo: iterating history for %q: %w", joinIdentity(path, name), err)
	}

	if len(log) == 0 {
		return nil, apperror.Errorf(apperror.KindNotFound, "no history for %q", joinIdentity(path, name))
	}

	return log, nil
}

func scanHistoryRow(rows *sql.Rows) (historylog.Entry, error) {
	var (
		version   uint32
		ts        string
		operation string
		address   string
		hash      sql.NullString
		oldOrNew  sql.NullString
		content   []byte
	)

	if err := rows.Scan(&version, &ts, &operation, &address, &hash, &oldOrNew, &content); err != nil {
		return historylog.Entry{}, fmt.Errorf("filerepo: scanning history row: %w", err)
	}

	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return historylog.Entry{}, fmt.Errorf("filerepo: parsing history timestamp: %w", err)
	}

	kind, err := historylog.KindFromDBOperation(operation)
	if err != nil {
		return historylog.Entry{}, fmt.Errorf("filerepo: %w", err)
	}

	e := historylog.Entry{
		Version:   version,
		Timestamp: t,
		Address:   address,
		Kind:      kind,
		Content:   content,
	}

	switch kind {
	case historylog.Creation, historylog.Update:
		e.Hash = hash.String
	case historylog.MoveTo:
		e.PathTo = oldOrNew.String
	case historylog.MoveFrom:
		e.Hash = hash.String
		e.PathFrom = oldOrNew.String
	case historylog.Deletion:
		// no extra fields
	}

	return e, nil
}

// Save upserts content for (path, name) under optimistic concurrency.
// expectedVersion must be non-nil and equal the current version when the
// identity is live, and nil when it is not; any other combination fails
// with VersionMismatch. addr is the mutation's origin address, recorded as
// operational metadata on the history entry.
func (s *Store) Save(ctx context.Context, path, name string, content []byte, expectedVersion *uint32, addr string, now time.Time) (*Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("filerepo: beginning save tx: %w", err)
	}

	rev, err := s.saveTx(ctx, tx, path, name, content, expectedVersion, addr, now)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return nil, fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}

		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("filerepo: committing save: %w", err)
	}

	return rev, nil
}

func (s *Store) saveTx(ctx context.Context, tx *sql.Tx, path, name string, content []byte, expectedVersion *uint32, addr string, now time.Time) (*Revision, error) {
	current, err := s.getCurrentTx(ctx, tx, path, name)
	if err != nil {
		return nil, fmt.Errorf("filerepo: save %q: %w", joinIdentity(path, name), err)
	}

	isLive := current != nil

	if err := checkSavePrecondition(isLive, current, expectedVersion); err != nil {
		return nil, err
	}

	var maxHistory *uint32
	if !isLive {
		maxHistory, err = s.maxHistoryVersionTx(ctx, tx, path, name)
		if err != nil {
			return nil, fmt.Errorf("filerepo: save %q: %w", joinIdentity(path, name), err)
		}
	}

	var currentVersion uint32
	if isLive {
		currentVersion = current.version
	}

	newVersion := nextVersion(isLive, currentVersion, maxHistory)
	hash := hashContent(content)
	ts := now.UTC().Format(time.RFC3339)

	kind := historylog.Creation
	if isLive {
		kind = historylog.Update
	}

	op, err := historylog.DBOperation(kind)
	if err != nil {
		return nil, err
	}

	if _, err := tx.StmtContext(ctx, s.stmts.insertHistory).ExecContext(ctx,
		path, name, newVersion, ts, op, addr, hash, nil, content); err != nil {
		return nil, fmt.Errorf("filerepo: inserting history for %q: %w", joinIdentity(path, name), err)
	}

	if _, err := tx.StmtContext(ctx, s.stmts.upsertCurrent).ExecContext(ctx,
		path, name, newVersion, ts, hash, content); err != nil {
		return nil, fmt.Errorf("filerepo: upserting current row for %q: %w", joinIdentity(path, name), err)
	}

	return &Revision{Version: newVersion, Timestamp: now.UTC(), Hash: hash}, nil
}

func checkSavePrecondition(isLive bool, current *currentRow, expectedVersion *uint32) error {
	switch {
	case isLive && expectedVersion != nil && *expectedVersion == current.version:
		return nil
	case !isLive && expectedVersion == nil:
		return nil
	default:
		return apperror.New(apperror.KindVersionMismatch, "save: expected version precondition failed")
	}
}

// Delete removes the current revision of a live identity and appends a
// Deletion entry. Fails with NotFound if not live, VersionMismatch if
// expectedVersion disagrees with the current version.
func (s *Store) Delete(ctx context.Context, path, name string, expectedVersion uint32, addr string, now time.Time) (*Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("filerepo: beginning delete tx: %w", err)
	}

	rev, err := s.deleteTx(ctx, tx, path, name, expectedVersion, addr, now)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return nil, fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}

		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("filerepo: committing delete: %w", err)
	}

	return rev, nil
}

func (s *Store) deleteTx(ctx context.Context, tx *sql.Tx, path, name string, expectedVersion uint32, addr string, now time.Time) (*Revision, error) {
	current, err := s.getCurrentTx(ctx, tx, path, name)
	if err != nil {
		return nil, fmt.Errorf("filerepo: delete %q: %w", joinIdentity(path, name), err)
	}

	if current == nil {
		return nil, apperror.Errorf(apperror.KindNotFound, "delete: %q is not live", joinIdentity(path, name))
	}

	if current.version != expectedVersion {
		return nil, apperror.New(apperror.KindVersionMismatch, "delete: expected version precondition failed")
	}

	newVersion := current.version + 1
	ts := now.UTC().Format(time.RFC3339)

	op, err := historylog.DBOperation(historylog.Deletion)
	if err != nil {
		return nil, err
	}

	if _, err := tx.StmtContext(ctx, s.stmts.insertHistory).ExecContext(ctx,
		path, name, newVersion, ts, op, addr, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("filerepo: inserting deletion history for %q: %w", joinIdentity(path, name), err)
	}

	if _, err := tx.StmtContext(ctx, s.stmts.deleteCurrent).ExecContext(ctx, path, name); err != nil {
		return nil, fmt.Errorf("filerepo: deleting current row for %q: %w", joinIdentity(path, name), err)
	}

	return &Revision{Version: newVersion, Timestamp: now.UTC()}, nil
}

// MoveTo atomically moves a live identity to a new, not-currently-live
// identity. Returns the destination's new revision.
func (s *Store) MoveTo(ctx context.Context, pathFrom, nameFrom string, expectedVersion uint32, pathTo, nameTo, addr string, now time.Time) (*Revision, error) {
	if pathFrom == pathTo && nameFrom == nameTo {
		return nil, apperror.New(apperror.KindInvalidRequest, "move_to: source and destination are the same identity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("filerepo: beginning move tx: %w", err)
	}

	rev, err := s.moveToTx(ctx, tx, pathFrom, nameFrom, expectedVersion, pathTo, nameTo, addr, now)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return nil, fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}

		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("filerepo: committing move: %w", err)
	}

	return rev, nil
}

func (s *Store) moveToTx(ctx context.Context, tx *sql.Tx, pathFrom, nameFrom string, expectedVersion uint32, pathTo, nameTo, addr string, now time.Time) (*Revision, error) {
	source, err := s.getCurrentTx(ctx, tx, pathFrom, nameFrom)
	if err != nil {
		return nil, fmt.Errorf("filerepo: move %q: %w", joinIdentity(pathFrom, nameFrom), err)
	}

	if source == nil {
		return nil, apperror.Errorf(apperror.KindNotFound, "move: source %q is not live", joinIdentity(pathFrom, nameFrom))
	}

	if source.version != expectedVersion {
		return nil, apperror.New(apperror.KindVersionMismatch, "move: expected version precondition failed")
	}

	dest, err := s.getCurrentTx(ctx, tx, pathTo, nameTo)
	if err != nil {
		return nil, fmt.Errorf("filerepo: move %q: %w", joinIdentity(pathTo, nameTo), err)
	}

	if dest != nil {
		return nil, apperror.New(apperror.KindVersionMismatch, "move: destination already exists")
	}

	ts := now.UTC().Format(time.RFC3339)

	// 2. Append MoveTo under the source identity.
	sourceNewVersion := source.version + 1

	moveToOp, err := historylog.DBOperation(historylog.MoveTo)
	if err != nil {
		return nil, err
	}

	destFullPath := joinIdentity(pathTo, nameTo)

	if _, err := tx.StmtContext(ctx, s.stmts.insertHistory).ExecContext(ctx,
		pathFrom, nameFrom, sourceNewVersion, ts, moveToOp, addr, nil, destFullPath, nil); err != nil {
		return nil, fmt.Errorf("filerepo: inserting MoveTo history: %w", err)
	}

	// 3. Append MoveFrom under the destination identity.
	destMaxHistory, err := s.maxHistoryVersionTx(ctx, tx, pathTo, nameTo)
	if err != nil {
		return nil, fmt.Errorf("filerepo: move: %w", err)
	}

	destNewVersion := nextVersion(false, 0, destMaxHistory)

	moveFromOp, err := historylog.DBOperation(historylog.MoveFrom)
	if err != nil {
		return nil, err
	}

	sourceFullPath := joinIdentity(pathFrom, nameFrom)

	if _, err := tx.StmtContext(ctx, s.stmts.insertHistory).ExecContext(ctx,
		pathTo, nameTo, destNewVersion, ts, moveFromOp, addr, source.hash, sourceFullPath, source.content); err != nil {
		return nil, fmt.Errorf("filerepo: inserting MoveFrom history: %w", err)
	}

	// 4. Delete the source current row.
	if _, err := tx.StmtContext(ctx, s.stmts.deleteCurrent).ExecContext(ctx, pathFrom, nameFrom); err != nil {
		return nil, fmt.Errorf("filerepo: deleting source current row: %w", err)
	}

	// 5. Upsert the destination current row with the source content.
	if _, err := tx.StmtContext(ctx, s.stmts.upsertCurrent).ExecContext(ctx,
		pathTo, nameTo, destNewVersion, ts, source.hash, source.content); err != nil {
		return nil, fmt.Errorf("filerepo: upserting destination current row: %w", err)
	}

	return &Revision{Version: destNewVersion, Timestamp: now.UTC(), Hash: source.hash}, nil
}
