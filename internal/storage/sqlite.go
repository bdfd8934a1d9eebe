package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding consolidated records, the master
// label set, the snapshot index, and the batch registry.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "labelloop.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors. This
	// also backs the single-writer contract on label mutations.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Records ---

// UpsertRecords stores consolidated records in one transaction. Re-preparing
// the same source data refreshes appearance counts; text content for an
// existing id never changes (it is a pure function of the id).
func (s *Store) UpsertRecords(records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning records transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		createdAt := now
		if !r.CreatedAt.IsZero() {
			createdAt = r.CreatedAt.UTC().Format(time.RFC3339)
		}
		if _, err := tx.Exec(`
			INSERT INTO records (id, text_content, appearance_count, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET appearance_count = excluded.appearance_count`,
			r.ID, r.TextContent, r.AppearanceCount, createdAt,
		); err != nil {
			return fmt.Errorf("upserting record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// ListRecords returns all consolidated records ordered by id.
func (s *Store) ListRecords() ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, text_content, appearance_count, created_at
		FROM records ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var r Record
		var createdAt string
		if err := rows.Scan(&r.ID, &r.TextContent, &r.AppearanceCount, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountRecords returns the number of consolidated records.
func (s *Store) CountRecords() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&n)
	return n, err
}

// --- Labels ---

// GetLabel returns the authoritative label for a record.
func (s *Store) GetLabel(recordID string) (Label, error) {
	var l Label
	var createdAt string
	err := s.db.QueryRow(`
		SELECT record_id, text_content, categories_json, source, model_ref, created_at, seq
		FROM labels WHERE record_id = ?`, recordID,
	).Scan(&l.RecordID, &l.TextContent, &l.CategoriesJSON, &l.Source, &l.ModelRef, &createdAt, &l.Seq)
	if err == sql.ErrNoRows {
		return Label{}, ErrNotFound
	}
	if err != nil {
		return Label{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Label{}, fmt.Errorf("parsing created_at: %w", err)
	}
	l.CreatedAt = t
	return l, nil
}

// UpsertLabels applies a set of label writes in a single transaction,
// assigning each an ascending store-wide sequence number. The decision which
// labels may be written (manual precedence) belongs to the caller; the store
// only guarantees atomicity and recency ordering.
func (s *Store) UpsertLabels(labels []Label) error {
	if len(labels) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning labels transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM labels").Scan(&seq); err != nil {
		return fmt.Errorf("reading label sequence: %w", err)
	}

	for _, l := range labels {
		seq++
		createdAt := l.CreatedAt.UTC().Format(time.RFC3339)
		if _, err := tx.Exec(`
			INSERT INTO labels (record_id, text_content, categories_json, source, model_ref, created_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(record_id) DO UPDATE SET
				text_content = excluded.text_content,
				categories_json = excluded.categories_json,
				source = excluded.source,
				model_ref = excluded.model_ref,
				created_at = excluded.created_at,
				seq = excluded.seq`,
			l.RecordID, l.TextContent, l.CategoriesJSON, l.Source, l.ModelRef, createdAt, seq,
		); err != nil {
			return fmt.Errorf("upserting label %s: %w", l.RecordID, err)
		}
	}
	return tx.Commit()
}

// ListLabels returns all current labels, most recently written first.
func (s *Store) ListLabels() ([]Label, error) {
	rows, err := s.db.Query(`
		SELECT record_id, text_content, categories_json, source, model_ref, created_at, seq
		FROM labels ORDER BY seq DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLabels(rows)
}

// LabeledIDs returns the set of record ids present in the master label set.
func (s *Store) LabeledIDs() (map[string]struct{}, error) {
	rows, err := s.db.Query("SELECT record_id FROM labels")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// CountLabels returns the size of the current master label set.
func (s *Store) CountLabels() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM labels").Scan(&n)
	return n, err
}

func scanLabels(rows *sql.Rows) ([]Label, error) {
	var results []Label
	for rows.Next() {
		var l Label
		var createdAt string
		if err := rows.Scan(&l.RecordID, &l.TextContent, &l.CategoriesJSON, &l.Source, &l.ModelRef, &createdAt, &l.Seq); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		l.CreatedAt = t
		results = append(results, l)
	}
	return results, rows.Err()
}

// --- Snapshots ---

// CreateSnapshot freezes the current master label set under a new snapshot id
// and appends it to the snapshot index. Earlier snapshots are never touched.
func (s *Store) CreateSnapshot(id string, createdAt time.Time) (Snapshot, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Snapshot{}, fmt.Errorf("beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM labels").Scan(&count); err != nil {
		return Snapshot{}, fmt.Errorf("counting labels: %w", err)
	}

	ts := createdAt.UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(`
		INSERT INTO snapshots (id, created_at, record_count) VALUES (?, ?, ?)`,
		id, ts, count,
	); err != nil {
		return Snapshot{}, fmt.Errorf("inserting snapshot %s: %w", id, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO snapshot_labels (snapshot_id, record_id, text_content, categories_json, source, model_ref, created_at)
		SELECT ?, record_id, text_content, categories_json, source, model_ref, created_at FROM labels`,
		id,
	); err != nil {
		return Snapshot{}, fmt.Errorf("freezing labels for snapshot %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("committing snapshot %s: %w", id, err)
	}
	return Snapshot{ID: id, CreatedAt: createdAt.UTC(), RecordCount: count}, nil
}

// ListSnapshots returns the snapshot index in chronological order (oldest
// first). Ordering is explicit over stored metadata, never derived from
// storage-layer naming.
func (s *Store) ListSnapshots() ([]Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, record_count FROM snapshots
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Snapshot
	for rows.Next() {
		var snap Snapshot
		var createdAt string
		if err := rows.Scan(&snap.ID, &createdAt, &snap.RecordCount); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		snap.CreatedAt = t
		results = append(results, snap)
	}
	return results, rows.Err()
}

// LatestSnapshot returns the most recent snapshot, or ErrNotFound if none exist.
func (s *Store) LatestSnapshot() (Snapshot, error) {
	var snap Snapshot
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, created_at, record_count FROM snapshots
		ORDER BY created_at DESC, id DESC LIMIT 1`,
	).Scan(&snap.ID, &createdAt, &snap.RecordCount)
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parsing created_at: %w", err)
	}
	snap.CreatedAt = t
	return snap, nil
}

// SnapshotLabels returns the frozen labels of one snapshot, ordered by record id.
func (s *Store) SnapshotLabels(snapshotID string) ([]Label, error) {
	var exists int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM snapshots WHERE id = ?", snapshotID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.db.Query(`
		SELECT record_id, text_content, categories_json, source, model_ref, created_at, 0
		FROM snapshot_labels WHERE snapshot_id = ? ORDER BY record_id ASC`, snapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLabels(rows)
}

// --- Batch registry ---

// RegisterBatch records a newly written batch file as pending.
func (s *Store) RegisterBatch(b Batch) error {
	status := b.Status
	if status == "" {
		status = "pending"
	}
	_, err := s.db.Exec(`
		INSERT INTO batches (id, selection_method, model_ref, path, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.SelectionMethod, b.ModelRef, b.Path, status,
		b.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetBatch returns a registered batch by id.
func (s *Store) GetBatch(id string) (Batch, error) {
	var b Batch
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, selection_method, model_ref, path, status, created_at
		FROM batches WHERE id = ?`, id,
	).Scan(&b.ID, &b.SelectionMethod, &b.ModelRef, &b.Path, &b.Status, &createdAt)
	if err == sql.ErrNoRows {
		return Batch{}, ErrNotFound
	}
	if err != nil {
		return Batch{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Batch{}, fmt.Errorf("parsing created_at: %w", err)
	}
	b.CreatedAt = t
	return b, nil
}

// ListBatches returns all registered batches in chronological order.
func (s *Store) ListBatches() ([]Batch, error) {
	rows, err := s.db.Query(`
		SELECT id, selection_method, model_ref, path, status, created_at
		FROM batches ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Batch
	for rows.Next() {
		var b Batch
		var createdAt string
		if err := rows.Scan(&b.ID, &b.SelectionMethod, &b.ModelRef, &b.Path, &b.Status, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		b.CreatedAt = t
		results = append(results, b)
	}
	return results, rows.Err()
}

// MarkBatchMerged transitions a batch to its terminal merged state.
func (s *Store) MarkBatchMerged(id string) error {
	res, err := s.db.Exec(`UPDATE batches SET status = 'merged' WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
