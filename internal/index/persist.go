package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/starford/plotweave/internal/apperr"
	"github.com/starford/plotweave/internal/graph"
	"github.com/starford/plotweave/internal/textnorm"
)

// Persist applies one graph commit in a single transaction.
func (db *DB) Persist(ctx context.Context, cs *graph.ChangeSet) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	for _, f := range cs.RetractedFiles {
		if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE origin_file = ?`, f); err != nil {
			return fmt.Errorf("index: retract edges from %s: %w", f, err)
		}
	}

	if len(cs.Nodes) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO nodes (id, seq, label, name, properties)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				properties = excluded.properties
		`)
		if err != nil {
			return fmt.Errorf("index: prepare node upsert: %w", err)
		}
		defer stmt.Close()
		for _, n := range cs.Nodes {
			props, err := json.Marshal(n.Properties)
			if err != nil {
				return fmt.Errorf("index: encode node %s: %w", n.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, n.ID, n.Seq, string(n.Label), n.Name, string(props)); err != nil {
				return fmt.Errorf("index: upsert node %s: %w", n.ID, err)
			}
		}
	}

	if len(cs.Edges) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO edges (seq, source, predicate, target, properties, origin_file, origin_version)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("index: prepare edge insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range cs.Edges {
			props, err := json.Marshal(e.Properties)
			if err != nil {
				return fmt.Errorf("index: encode edge %d: %w", e.Seq, err)
			}
			if _, err := stmt.ExecContext(ctx, e.Seq, e.Source, string(e.Predicate), e.Target, string(props), e.OriginFile, e.OriginVersion); err != nil {
				return fmt.Errorf("index: insert edge %d: %w", e.Seq, err)
			}
		}
	}

	for file, ids := range cs.Anchors {
		if _, err := tx.ExecContext(ctx, `DELETE FROM node_files WHERE origin_file = ?`, file); err != nil {
			return fmt.Errorf("index: clear anchors for %s: %w", file, err)
		}
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO node_files (node_id, origin_file, pos) VALUES (?, ?, ?)`, id, file, i); err != nil {
				return fmt.Errorf("index: anchor %s to %s: %w", id, file, err)
			}
		}
	}

	for _, id := range cs.RemovedNodes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
			return fmt.Errorf("index: delete node %s: %w", id, err)
		}
	}

	now := time.Now().UTC()
	for _, d := range cs.PutDocs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (path, kind, title, version, body, folded, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				kind       = excluded.kind,
				title      = excluded.title,
				version    = excluded.version,
				body       = excluded.body,
				folded     = excluded.folded,
				updated_at = excluded.updated_at
		`, d.Path, d.Kind, d.Title, d.Version, d.Body, textnorm.Fold(d.Title+"\n"+d.Body), now)
		if err != nil {
			return fmt.Errorf("index: upsert document %s: %w", d.Path, err)
		}
	}
	for _, p := range cs.RemovedDocs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, p); err != nil {
			return fmt.Errorf("index: delete document %s: %w", p, err)
		}
	}

	for k, v := range map[string]int64{
		metaGraphVersion: int64(cs.Version),
		metaNextNodeSeq:  cs.NextNodeSeq,
		metaNextEdgeSeq:  cs.NextEdgeSeq,
	} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, k, strconv.FormatInt(v, 10)); err != nil {
			return fmt.Errorf("index: write meta %s: %w", k, err)
		}
	}

	return tx.Commit()
}

// Load reads the persisted graph image. Any row that cannot be decoded is
// reported as apperr.ErrCorruptIndex.
func (db *DB) Load(ctx context.Context) (*graph.State, error) {
	st := &graph.State{Anchors: make(map[string][]string)}

	meta, err := db.readMeta(ctx)
	if err != nil {
		return nil, err
	}
	st.Version = uint64(meta[metaGraphVersion])
	st.NextNodeSeq = meta[metaNextNodeSeq]
	st.NextEdgeSeq = meta[metaNextEdgeSeq]

	rows, err := db.conn.QueryContext(ctx, `SELECT id, seq, label, name, properties FROM nodes ORDER BY seq`)
	if err != nil {
		return nil, apperr.Corrupt("read nodes", err)
	}
	for rows.Next() {
		var (
			n     graph.Node
			label string
			props string
		)
		if err := rows.Scan(&n.ID, &n.Seq, &label, &n.Name, &props); err != nil {
			rows.Close()
			return nil, apperr.Corrupt("scan node", err)
		}
		n.Label = graph.Label(label)
		if n.Properties, err = decodeProps(props); err != nil {
			rows.Close()
			return nil, apperr.Corrupt("node "+n.ID+" properties", err)
		}
		st.Nodes = append(st.Nodes, &n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Corrupt("read nodes", err)
	}

	rows, err = db.conn.QueryContext(ctx, `
		SELECT seq, source, predicate, target, properties, origin_file, origin_version
		FROM edges ORDER BY seq
	`)
	if err != nil {
		return nil, apperr.Corrupt("read edges", err)
	}
	for rows.Next() {
		var (
			e     graph.Edge
			pred  string
			props string
		)
		if err := rows.Scan(&e.Seq, &e.Source, &pred, &e.Target, &props, &e.OriginFile, &e.OriginVersion); err != nil {
			rows.Close()
			return nil, apperr.Corrupt("scan edge", err)
		}
		e.Predicate = graph.Predicate(pred)
		if e.Properties, err = decodeProps(props); err != nil {
			rows.Close()
			return nil, apperr.Corrupt(fmt.Sprintf("edge %d properties", e.Seq), err)
		}
		st.Edges = append(st.Edges, &e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Corrupt("read edges", err)
	}

	rows, err = db.conn.QueryContext(ctx, `SELECT node_id, origin_file FROM node_files ORDER BY origin_file, pos`)
	if err != nil {
		return nil, apperr.Corrupt("read anchors", err)
	}
	for rows.Next() {
		var id, file string
		if err := rows.Scan(&id, &file); err != nil {
			rows.Close()
			return nil, apperr.Corrupt("scan anchor", err)
		}
		st.Anchors[file] = append(st.Anchors[file], id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Corrupt("read anchors", err)
	}

	rows, err = db.conn.QueryContext(ctx, `SELECT path, kind, title, version FROM documents ORDER BY path`)
	if err != nil {
		return nil, apperr.Corrupt("read documents", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f graph.FileRecord
		if err := rows.Scan(&f.Path, &f.Kind, &f.Title, &f.Version); err != nil {
			return nil, apperr.Corrupt("scan document", err)
		}
		st.Files = append(st.Files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Corrupt("read documents", err)
	}
	return st, nil
}

func (db *DB) readMeta(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	rows, err := db.conn.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, apperr.Corrupt("read meta", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperr.Corrupt("scan meta", err)
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, apperr.Corrupt("meta "+k, err)
		}
		out[k] = n
	}
	return out, rows.Err()
}

func decodeProps(raw string) (graph.Props, error) {
	if raw == "" {
		return graph.Props{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return graph.NormalizeProps(m)
}
