package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ErrUnknownCollection is returned for collection names not in the schema.
var ErrUnknownCollection = errors.New("unknown collection")

// Record is one stored value with its primary key and write sequence.
type Record struct {
	Key  string
	Seq  int64
	Data json.RawMessage
}

// Decode unmarshals the record payload into out.
func (r Record) Decode(out any) error {
	return json.Unmarshal(r.Data, out)
}

// Tx is a transaction scoped to a single collection.
type Tx struct {
	ctx        context.Context
	tx         DBTX
	collection Collection
}

// Get reads one record by key.
func (s *Store) Get(ctx context.Context, collection, key string) (Record, bool, error) {
	var (
		rec Record
		ok  bool
	)
	err := s.read(ctx, collection, func(c Collection) error {
		var err error
		rec, ok, err = getRecord(ctx, s.db, c, key)
		return err
	})
	return rec, ok, err
}

// GetAll returns every record in insertion order.
func (s *Store) GetAll(ctx context.Context, collection string) ([]Record, error) {
	var records []Record
	err := s.read(ctx, collection, func(c Collection) error {
		var err error
		records, err = queryRecords(ctx, s.db, fmt.Sprintf(
			"SELECT key, seq, data FROM %s ORDER BY seq", tableName(c.Name)))
		return err
	})
	return records, err
}

// GetAllByIndex returns the records whose indexed field equals value.
// value must have the JSON type of the field (int64 for numeric ids).
func (s *Store) GetAllByIndex(ctx context.Context, collection, index string, value any) ([]Record, error) {
	var records []Record
	err := s.read(ctx, collection, func(c Collection) error {
		idx, ok := c.index(index)
		if !ok {
			return fmt.Errorf("collection %s has no index %q", c.Name, index)
		}
		var err error
		records, err = queryRecords(ctx, s.db, fmt.Sprintf(
			"SELECT key, seq, data FROM %s WHERE %s = ? %s",
			tableName(c.Name), jsonExpr(idx.Path), c.orderClause()), value)
		return err
	})
	return records, err
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var count int
	err := s.read(ctx, collection, func(c Collection) error {
		return s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tableName(c.Name)).Scan(&count)
	})
	return count, err
}

// Put writes values in order within one transaction. Each value's key is read
// from the collection's key path.
func (s *Store) Put(ctx context.Context, collection string, values ...any) error {
	if len(values) == 0 {
		return nil
	}
	return s.Update(ctx, collection, func(tx *Tx) error {
		for _, value := range values {
			if err := tx.Put(value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a record. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	return s.Update(ctx, collection, func(tx *Tx) error {
		return tx.Delete(key)
	})
}

// Clear removes every record in a collection.
func (s *Store) Clear(ctx context.Context, collection string) error {
	return s.Update(ctx, collection, func(tx *Tx) error {
		_, err := tx.tx.ExecContext(ctx, "DELETE FROM "+tableName(tx.collection.Name))
		return err
	})
}

// EvictOldest deletes all but the keep most recently written records and
// returns how many were removed.
func (s *Store) EvictOldest(ctx context.Context, collection string, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("evict %s: keep must not be negative", collection)
	}
	var removed int
	err := s.Update(ctx, collection, func(tx *Tx) error {
		table := tableName(tx.collection.Name)
		res, err := tx.tx.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM %s
			WHERE key NOT IN (SELECT key FROM %s ORDER BY seq DESC LIMIT ?)
		`, table, table), keep)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		removed = int(n)
		return err
	})
	return removed, err
}

// Update runs fn in a transaction that holds the collection's write lock, so
// no other transaction on the same collection observes its partial writes.
func (s *Store) Update(ctx context.Context, collection string, fn func(tx *Tx) error) error {
	c, lock, err := s.collection(collection)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&Tx{ctx: ctx, tx: sqlTx, collection: c}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// NextSequence increments and returns a named store-backed counter.
func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	if s == nil {
		return 0, ErrStorageUnavailable
	}
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rr_sequences (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value
	`, name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", name, err)
	}
	return value, nil
}

// Get reads one record inside the transaction.
func (t *Tx) Get(key string) (Record, bool, error) {
	return getRecord(t.ctx, t.tx, t.collection, key)
}

// Put inserts or replaces value, marking it as the most recent write.
func (t *Tx) Put(value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", t.collection.Name, err)
	}
	key, err := extractKey(data, t.collection.KeyPath)
	if err != nil {
		return fmt.Errorf("put %s: %w", t.collection.Name, err)
	}
	table := tableName(t.collection.Name)
	_, err = t.tx.ExecContext(t.ctx, fmt.Sprintf(`
		INSERT INTO %s (key, seq, data)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM %s), ?)
		ON CONFLICT(key) DO UPDATE SET seq = excluded.seq, data = excluded.data
	`, table, table), key, string(data))
	return err
}

// Delete removes key inside the transaction; missing keys are ignored.
func (t *Tx) Delete(key string) error {
	_, err := t.tx.ExecContext(t.ctx, "DELETE FROM "+tableName(t.collection.Name)+" WHERE key = ?", key)
	return err
}

// GetAs reads and decodes one record.
func GetAs[T any](ctx context.Context, s *Store, collection, key string) (T, bool, error) {
	var out T
	rec, ok, err := s.Get(ctx, collection, key)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := rec.Decode(&out); err != nil {
		return out, false, fmt.Errorf("decode %s/%s: %w", collection, key, err)
	}
	return out, true, nil
}

// DecodeAll decodes a slice of records into values of T.
func DecodeAll[T any](records []Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, rec := range records {
		var value T
		if err := rec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", rec.Key, err)
		}
		out = append(out, value)
	}
	return out, nil
}

func (s *Store) read(ctx context.Context, collection string, fn func(c Collection) error) error {
	c, lock, err := s.collection(collection)
	if err != nil {
		return err
	}
	lock.RLock()
	defer lock.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(c)
}

func (s *Store) collection(name string) (Collection, *sync.RWMutex, error) {
	if s == nil {
		return Collection{}, nil, ErrStorageUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return Collection{}, nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return c, s.locks[name], nil
}

func getRecord(ctx context.Context, db DBTX, c Collection, key string) (Record, bool, error) {
	rec := Record{Key: key}
	var data string
	err := db.QueryRowContext(ctx,
		"SELECT seq, data FROM "+tableName(c.Name)+" WHERE key = ?", key,
	).Scan(&rec.Seq, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec.Data = json.RawMessage(data)
	return rec, true, nil
}

func queryRecords(ctx context.Context, db DBTX, query string, args ...any) ([]Record, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec  Record
			data string
		)
		if err := rows.Scan(&rec.Key, &rec.Seq, &data); err != nil {
			return nil, err
		}
		rec.Data = json.RawMessage(data)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func extractKey(data []byte, keyPath string) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("record is not an object: %w", err)
	}
	raw, ok := fields[keyPath]
	if !ok {
		return "", fmt.Errorf("record has no %q key", keyPath)
	}
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" || value == `""` || value == "0" {
		return "", fmt.Errorf("record has empty %q key", keyPath)
	}
	if strings.HasPrefix(value, `"`) {
		unquoted, err := strconv.Unquote(value)
		if err != nil {
			return "", fmt.Errorf("invalid %q key: %w", keyPath, err)
		}
		return unquoted, nil
	}
	return value, nil
}
