package tree

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SQL is a Postgres Backend storing one row per leaf value.
type SQL struct {
	db *sqlx.DB
}

// NewSQL constructs the Postgres backend. The tree_nodes table is created
// by the db package migrations.
func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

type nodeRow struct {
	Path  string `db:"path"`
	Value []byte `db:"value"`
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(path string) string {
	return likeEscaper.Replace(path) + "/%"
}

func (s *SQL) Get(ctx context.Context, path string) (any, bool, error) {
	var rows []nodeRow
	var err error
	if path == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT path, value FROM tree_nodes`)
	} else {
		err = s.db.SelectContext(ctx, &rows, `SELECT path, value FROM tree_nodes WHERE path = $1 OR path LIKE $2 ESCAPE '\'`, path, likePrefix(path))
	}
	if err != nil {
		return nil, false, err
	}

	base := len(Split(path))
	var root any
	for _, row := range rows {
		leaf, err := decodeLeaf(row.Value)
		if err != nil {
			return nil, false, fmt.Errorf("decode %q: %w", row.Path, err)
		}
		root = setAt(root, Split(row.Path)[base:], leaf)
	}
	if root == nil {
		return nil, false, nil
	}
	return root, true, nil
}

func (s *SQL) Set(ctx context.Context, path string, value any) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if hasServerTimestamp(value) {
		now, err := stamp(ctx, tx, parentOf(path))
		if err != nil {
			return err
		}
		value = resolveServerTimestamps(value, now)
	}
	if err := writeNode(ctx, tx, path, value); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQL) Merge(ctx context.Context, path string, fields map[string]any) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	fields, err = stampFields(ctx, tx, path, fields)
	if err != nil {
		return err
	}
	for _, k := range sortedKeys(fields) {
		if err := writeNode(ctx, tx, Join(path, k), fields[k]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MergeExisting locks each parent's rows before writing, so a concurrent
// Remove either runs first and the field is skipped, or waits and removes
// the updated row too.
func (s *SQL) MergeExisting(ctx context.Context, path string, fields map[string]any) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	fields, err = stampFields(ctx, tx, path, fields)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, k := range sortedKeys(fields) {
		target := Join(path, k)
		pattern := "%"
		if parent := parentOf(target); parent != "" {
			pattern = likePrefix(parent)
		}
		var rows []string
		if err := tx.SelectContext(ctx, &rows, `SELECT path FROM tree_nodes WHERE path LIKE $1 ESCAPE '\' FOR UPDATE`, pattern); err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			continue
		}
		if err := upsertNode(ctx, tx, target, fields[k]); err != nil {
			return 0, err
		}
		applied++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return applied, nil
}

func (s *SQL) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

func (s *SQL) Clock(ctx context.Context) (int64, error) {
	var now int64
	err := s.db.GetContext(ctx, &now, clockQuery)
	return now, err
}

const clockQuery = `SELECT (EXTRACT(EPOCH FROM clock_timestamp()) * 1000)::BIGINT`

// stamp serializes timestamped writes under one parent path and reads the
// clock once the lock is held, so commit order and timestamp order agree.
func stamp(ctx context.Context, tx *sqlx.Tx, lockPath string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockPath); err != nil {
		return 0, err
	}
	var now int64
	if err := tx.GetContext(ctx, &now, clockQuery); err != nil {
		return 0, err
	}
	return now, nil
}

func stampFields(ctx context.Context, tx *sqlx.Tx, path string, fields map[string]any) (map[string]any, error) {
	if !fieldsHaveServerTimestamp(fields) {
		return fields, nil
	}
	now, err := stamp(ctx, tx, path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = resolveServerTimestamps(v, now)
	}
	return out, nil
}

// upsertNode rewrites a scalar leaf in place, keeping its row identity so
// that row locks taken by a concurrent Remove still cover it.
func upsertNode(ctx context.Context, tx *sqlx.Tx, path string, value any) error {
	if _, isObject := value.(map[string]any); isObject || value == nil {
		return writeNode(ctx, tx, path, value)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tree_nodes WHERE path LIKE $1 ESCAPE '\'`, likePrefix(path)); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tree_nodes (path, value) VALUES ($1, $2) ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value`, path, raw)
	return err
}

func sortedKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parentOf(path string) string {
	if ancestors := ancestorsOf(path); len(ancestors) > 0 {
		return ancestors[len(ancestors)-1]
	}
	return ""
}

func writeNode(ctx context.Context, tx *sqlx.Tx, path string, value any) error {
	if path == "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tree_nodes`); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tree_nodes WHERE path = $1 OR path LIKE $2 ESCAPE '\'`, path, likePrefix(path)); err != nil {
			return err
		}
	}
	if value == nil {
		return nil
	}

	// A scalar ancestor would shadow the new subtree.
	if ancestors := ancestorsOf(path); len(ancestors) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tree_nodes WHERE path = ANY($1)`, pq.Array(ancestors)); err != nil {
			return err
		}
	}

	leaves := make(map[string]any)
	flatten(path, value, leaves)
	paths := make([]string, 0, len(leaves))
	for p := range leaves {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		raw, err := json.Marshal(leaves[p])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO tree_nodes (path, value) VALUES ($1, $2)`, p, raw); err != nil {
			return err
		}
	}
	return nil
}

func ancestorsOf(path string) []string {
	segs := Split(path)
	out := make([]string, 0, len(segs))
	for i := 1; i < len(segs); i++ {
		out = append(out, strings.Join(segs[:i], pathSeparator))
	}
	return out
}

func decodeLeaf(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return convertNumbers(v), nil
}
