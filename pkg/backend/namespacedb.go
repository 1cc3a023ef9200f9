package backend

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kaizen-ai/kaizen/pkg/schema"
)

const createNamespacesTableSQL = `
CREATE TABLE IF NOT EXISTS namespaces (
    id         TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL
);
`

// namespaceDB keeps namespace records for backends whose index has no
// natural place for them. Counts are never stored here; they come live from
// the index.
type namespaceDB struct {
	db *sql.DB
	mu sync.Mutex
}

func openNamespaceDB(path string) (*namespaceDB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open namespace database: %w", err)
	}
	if _, err := db.Exec(createNamespacesTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize namespace schema: %w", err)
	}
	return &namespaceDB{db: db}, nil
}

func (n *namespaceDB) create(namespaceID string) (*schema.Namespace, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	createdAt := time.Now().UTC()
	_, err := n.db.Exec(
		`INSERT INTO namespaces (id, created_at) VALUES (?, ?)`,
		namespaceID, createdAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, &schema.NamespaceAlreadyExistsError{NamespaceID: namespaceID}
		}
		return nil, schema.NewStoreError("failed to create namespace record: %v", err)
	}
	return &schema.Namespace{ID: namespaceID, CreatedAt: createdAt}, nil
}

func (n *namespaceDB) get(namespaceID string) (*schema.Namespace, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var ns schema.Namespace
	err := n.db.QueryRow(
		`SELECT id, created_at FROM namespaces WHERE id = ?`, namespaceID,
	).Scan(&ns.ID, &ns.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &schema.NamespaceNotFoundError{NamespaceID: namespaceID}
	}
	if err != nil {
		return nil, schema.NewStoreError("failed to read namespace record: %v", err)
	}
	return &ns, nil
}

func (n *namespaceDB) list(limit int) ([]*schema.Namespace, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	rows, err := n.db.Query(`SELECT id, created_at FROM namespaces LIMIT ?`, limit)
	if err != nil {
		return nil, schema.NewStoreError("failed to list namespace records: %v", err)
	}
	defer rows.Close()

	var namespaces []*schema.Namespace
	for rows.Next() {
		var ns schema.Namespace
		if err := rows.Scan(&ns.ID, &ns.CreatedAt); err != nil {
			return nil, schema.NewStoreError("failed to scan namespace record: %v", err)
		}
		namespaces = append(namespaces, &ns)
	}
	return namespaces, rows.Err()
}

func (n *namespaceDB) delete(namespaceID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, err := n.db.Exec(`DELETE FROM namespaces WHERE id = ?`, namespaceID); err != nil {
		return schema.NewStoreError("failed to delete namespace record: %v", err)
	}
	return nil
}

func (n *namespaceDB) close() error { return n.db.Close() }
