package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// migrations is an ordered list of SQL statements applied on startup.
// Each entry is idempotent (IF NOT EXISTS) so re-running is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS nodes (
		id         TEXT PRIMARY KEY,
		parent_id  TEXT REFERENCES nodes(id) ON DELETE CASCADE,
		kind       TEXT NOT NULL,
		name       TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id)`,
	`CREATE TABLE IF NOT EXISTS rdp_profiles (
		node_id        TEXT PRIMARY KEY REFERENCES nodes(id) ON DELETE CASCADE,
		host           TEXT NOT NULL,
		port           INTEGER NOT NULL DEFAULT 3389,
		username       TEXT NOT NULL DEFAULT '',
		domain         TEXT NOT NULL DEFAULT '',
		secret_ref     TEXT NOT NULL DEFAULT '',
		desktop_width  INTEGER NOT NULL DEFAULT 0,
		desktop_height INTEGER NOT NULL DEFAULT 0
	)`,
}

// SQLiteStore implements Store using a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at path, runs
// migrations, and ensures the root folder exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time.

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	// Cascade deletes depend on foreign keys; with one connection the
	// session pragma sticks.
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM nodes WHERE parent_id IS NULL`).Scan(&n); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	if n == 0 {
		now := time.Now().UTC().Format(time.RFC3339)
		_, err := s.db.Exec(
			`INSERT INTO nodes (id, parent_id, kind, name, created_at, updated_at) VALUES (?, NULL, ?, ?, ?, ?)`,
			uuid.NewString(), KindFolder, "Connections", now, now)
		if err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Root returns the root folder.
func (s *SQLiteStore) Root(ctx context.Context) (*Node, error) {
	return s.scanNode(s.db.QueryRowContext(ctx,
		`SELECT id, parent_id, kind, name, created_at, updated_at FROM nodes WHERE parent_id IS NULL`))
}

// CreateFolder adds an empty folder under parentID.
func (s *SQLiteStore) CreateFolder(ctx context.Context, parentID, name string) (*Node, error) {
	return s.createNode(ctx, parentID, KindFolder, name, nil)
}

// CreateProfile adds a profile node under parentID with the given
// connection fields. p.NodeID is filled in with the new node's id.
func (s *SQLiteStore) CreateProfile(ctx context.Context, parentID, name string, p *RDPProfile) (*Node, error) {
	return s.createNode(ctx, parentID, KindProfile, name, p)
}

func (s *SQLiteStore) createNode(ctx context.Context, parentID, kind, name string, p *RDPProfile) (*Node, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	parent, err := scanNodeRow(tx.QueryRowContext(ctx,
		`SELECT id, parent_id, kind, name, created_at, updated_at FROM nodes WHERE id = ?`, parentID))
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, ErrNotFound
	}
	if parent.Kind != KindFolder {
		return nil, ErrNotFolder
	}

	now := time.Now().UTC()
	node := &Node{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Kind:      kind,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ts := now.Format(time.RFC3339)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO nodes (id, parent_id, kind, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		node.ID, node.ParentID, node.Kind, node.Name, ts, ts)
	if err != nil {
		return nil, err
	}

	if kind == KindProfile {
		p.NodeID = node.ID
		_, err = tx.ExecContext(ctx,
			`INSERT INTO rdp_profiles (node_id, host, port, username, domain, secret_ref, desktop_width, desktop_height)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.NodeID, p.Host, p.Port, p.Username, p.Domain, p.SecretRef, p.DesktopWidth, p.DesktopHeight)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return node, nil
}

// GetNode returns the node with the given id, or ErrNotFound.
func (s *SQLiteStore) GetNode(ctx context.Context, id string) (*Node, error) {
	n, err := s.scanNode(s.db.QueryRowContext(ctx,
		`SELECT id, parent_id, kind, name, created_at, updated_at FROM nodes WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, ErrNotFound
	}
	return n, nil
}

// GetProfile returns the connection fields of a profile node.
func (s *SQLiteStore) GetProfile(ctx context.Context, nodeID string) (*RDPProfile, error) {
	var p RDPProfile
	err := s.db.QueryRowContext(ctx,
		`SELECT node_id, host, port, username, domain, secret_ref, desktop_width, desktop_height
		 FROM rdp_profiles WHERE node_id = ?`, nodeID).
		Scan(&p.NodeID, &p.Host, &p.Port, &p.Username, &p.Domain, &p.SecretRef, &p.DesktopWidth, &p.DesktopHeight)
	if err == sql.ErrNoRows {
		return nil, ErrNotProfile
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListChildren returns the direct children of a folder, folders first,
// then by name.
func (s *SQLiteStore) ListChildren(ctx context.Context, parentID string) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_id, kind, name, created_at, updated_at FROM nodes
		 WHERE parent_id = ? ORDER BY kind ASC, name COLLATE NOCASE`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var nodes []*Node
	for rows.Next() {
		n, err := scanNodeRows(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Rename changes a node's display name.
func (s *SQLiteStore) Rename(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Move reparents a node. The new parent must be a folder, and must not
// be the node itself or any of its descendants.
func (s *SQLiteStore) Move(ctx context.Context, id, newParentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	node, err := scanNodeRow(tx.QueryRowContext(ctx,
		`SELECT id, parent_id, kind, name, created_at, updated_at FROM nodes WHERE id = ?`, id))
	if err != nil {
		return err
	}
	if node == nil {
		return ErrNotFound
	}
	if node.ParentID == "" {
		return ErrRootImmutable
	}

	parent, err := scanNodeRow(tx.QueryRowContext(ctx,
		`SELECT id, parent_id, kind, name, created_at, updated_at FROM nodes WHERE id = ?`, newParentID))
	if err != nil {
		return err
	}
	if parent == nil {
		return ErrNotFound
	}
	if parent.Kind != KindFolder {
		return ErrNotFolder
	}

	// Walk from the new parent to the root; meeting the moved node
	// means the destination is inside its own subtree.
	for cur := parent; cur != nil && cur.ParentID != ""; {
		if cur.ID == id {
			return ErrCycle
		}
		cur, err = scanNodeRow(tx.QueryRowContext(ctx,
			`SELECT id, parent_id, kind, name, created_at, updated_at FROM nodes WHERE id = ?`, cur.ParentID))
		if err != nil {
			return err
		}
	}
	if parent.ID == id {
		return ErrCycle
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE nodes SET parent_id = ?, updated_at = ? WHERE id = ?`,
		newParentID, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateProfile overwrites the connection fields of a profile node.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, p *RDPProfile) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rdp_profiles SET host = ?, port = ?, username = ?, domain = ?, secret_ref = ?, desktop_width = ?, desktop_height = ?
		 WHERE node_id = ?`,
		p.Host, p.Port, p.Username, p.Domain, p.SecretRef, p.DesktopWidth, p.DesktopHeight, p.NodeID)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return ErrNotProfile
	}
	return nil
}

// DeleteNode removes a node; folders cascade to their whole subtree.
func (s *SQLiteStore) DeleteNode(ctx context.Context, id string) error {
	node, err := s.scanNode(s.db.QueryRowContext(ctx,
		`SELECT id, parent_id, kind, name, created_at, updated_at FROM nodes WHERE id = ?`, id))
	if err != nil {
		return err
	}
	if node == nil {
		return ErrNotFound
	}
	if node.ParentID == "" {
		return ErrRootImmutable
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) scanNode(row *sql.Row) (*Node, error) {
	return scanNodeRow(row)
}

func scanNodeRow(row *sql.Row) (*Node, error) {
	var n Node
	var parent sql.NullString
	var created, updated string
	if err := row.Scan(&n.ID, &parent, &n.Kind, &n.Name, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	n.ParentID = parent.String
	n.CreatedAt, _ = time.Parse(time.RFC3339, created)
	n.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &n, nil
}

func scanNodeRows(rows *sql.Rows) (*Node, error) {
	var n Node
	var parent sql.NullString
	var created, updated string
	if err := rows.Scan(&n.ID, &parent, &n.Kind, &n.Name, &created, &updated); err != nil {
		return nil, err
	}
	n.ParentID = parent.String
	n.CreatedAt, _ = time.Parse(time.RFC3339, created)
	n.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &n, nil
}
