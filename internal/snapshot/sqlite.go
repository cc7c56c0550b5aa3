package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE nodes (
	id             INTEGER PRIMARY KEY,
	path           TEXT NOT NULL UNIQUE,
	previous_paths TEXT NOT NULL
);
CREATE TABLE edges (
	source         INTEGER NOT NULL REFERENCES nodes(id),
	target         INTEGER NOT NULL REFERENCES nodes(id),
	weight         INTEGER NOT NULL,
	change_ids     TEXT NOT NULL,
	sub_change_ids TEXT NOT NULL,
	PRIMARY KEY (source, target)
);
CREATE TABLE aliases (
	path TEXT PRIMARY KEY,
	node INTEGER NOT NULL REFERENCES nodes(id)
);
CREATE INDEX edges_target ON edges(target);
CREATE INDEX edges_weight ON edges(weight DESC);
`

const weightingKey = "weighting"

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	return db, nil
}

// WriteSQLite writes snap into a fresh SQLite database at path, replacing
// any existing file.
func WriteSQLite(ctx context.Context, path string, snap Snapshot) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove old database: %w", err)
	}

	db, err := openSQLite(path)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, sqliteSchema)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, weightingKey, snap.Weighting)
	if err != nil {
		return fmt.Errorf("insert meta: %w", err)
	}

	err = insertNodes(ctx, tx, snap.Nodes)
	if err != nil {
		return err
	}

	err = insertEdges(ctx, tx, snap.Edges)
	if err != nil {
		return err
	}

	for _, a := range snap.Aliases {
		_, err = tx.ExecContext(ctx, `INSERT INTO aliases (path, node) VALUES (?, ?)`, a.Path, a.Node)
		if err != nil {
			return fmt.Errorf("insert alias %q: %w", a.Path, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func insertNodes(ctx context.Context, tx *sql.Tx, nodes []Node) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO nodes (id, path, previous_paths) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare nodes: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		history, marshalErr := json.Marshal(nonNil(n.PreviousPaths))
		if marshalErr != nil {
			return fmt.Errorf("marshal previous paths: %w", marshalErr)
		}

		_, err = stmt.ExecContext(ctx, n.ID, n.Path, string(history))
		if err != nil {
			return fmt.Errorf("insert node %d: %w", n.ID, err)
		}
	}

	return nil
}

func insertEdges(ctx context.Context, tx *sql.Tx, edges []Edge) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO edges (source, target, weight, change_ids, sub_change_ids) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare edges: %w", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		changes, marshalErr := json.Marshal(nonNil(e.ChangeIDs))
		if marshalErr != nil {
			return fmt.Errorf("marshal change ids: %w", marshalErr)
		}

		subs, marshalErr := json.Marshal(nonNil(e.SubChangeIDs))
		if marshalErr != nil {
			return fmt.Errorf("marshal sub-change ids: %w", marshalErr)
		}

		_, err = stmt.ExecContext(ctx, e.Source, e.Target, e.Weight, string(changes), string(subs))
		if err != nil {
			return fmt.Errorf("insert edge %d-%d: %w", e.Source, e.Target, err)
		}
	}

	return nil
}

// ReadSQLite loads a document previously written by WriteSQLite.
func ReadSQLite(ctx context.Context, path string) (Snapshot, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open sqlite: %w", err)
	}

	db, err := openSQLite(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer db.Close()

	snap := Snapshot{Nodes: []Node{}, Edges: []Edge{}}

	err = db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, weightingKey).Scan(&snap.Weighting)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read meta: %w", err)
	}

	snap.Nodes, err = readNodes(ctx, db)
	if err != nil {
		return Snapshot{}, err
	}

	snap.Edges, err = readEdges(ctx, db)
	if err != nil {
		return Snapshot{}, err
	}

	snap.Aliases, err = readAliases(ctx, db)
	if err != nil {
		return Snapshot{}, err
	}

	return snap, nil
}

func readNodes(ctx context.Context, db *sql.DB) ([]Node, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, path, previous_paths FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	nodes := []Node{}

	for rows.Next() {
		var (
			n       Node
			history string
		)

		err = rows.Scan(&n.ID, &n.Path, &history)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}

		err = json.Unmarshal([]byte(history), &n.PreviousPaths)
		if err != nil {
			return nil, fmt.Errorf("node %d previous paths: %w", n.ID, err)
		}

		if len(n.PreviousPaths) == 0 {
			n.PreviousPaths = nil
		}

		nodes = append(nodes, n)
	}

	return nodes, rows.Err()
}

func readAliases(ctx context.Context, db *sql.DB) ([]Alias, error) {
	rows, err := db.QueryContext(ctx, `SELECT path, node FROM aliases ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("query aliases: %w", err)
	}
	defer rows.Close()

	var aliases []Alias

	for rows.Next() {
		var a Alias

		err = rows.Scan(&a.Path, &a.Node)
		if err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}

		aliases = append(aliases, a)
	}

	return aliases, rows.Err()
}

func readEdges(ctx context.Context, db *sql.DB) ([]Edge, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT source, target, weight, change_ids, sub_change_ids FROM edges ORDER BY source, target`)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	edges := []Edge{}

	for rows.Next() {
		var (
			e             Edge
			changes, subs string
		)

		err = rows.Scan(&e.Source, &e.Target, &e.Weight, &changes, &subs)
		if err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}

		err = json.Unmarshal([]byte(changes), &e.ChangeIDs)
		if err != nil {
			return nil, fmt.Errorf("edge %d-%d change ids: %w", e.Source, e.Target, err)
		}

		err = json.Unmarshal([]byte(subs), &e.SubChangeIDs)
		if err != nil {
			return nil, fmt.Errorf("edge %d-%d sub-change ids: %w", e.Source, e.Target, err)
		}

		edges = append(edges, e)
	}

	return edges, rows.Err()
}
