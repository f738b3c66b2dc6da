package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ademuri/vinyl-search/internal/catalog"
)

// UpsertVectors inserts or replaces catalog vectors by id in one
// transaction. A replaced vector keeps its original position.
func (s *Store) UpsertVectors(ctx context.Context, vectors []catalog.Vector) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO CatalogVector (id, vector, text) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET vector = excluded.vector, text = excluded.text`)
	if err != nil {
		return fmt.Errorf("preparing vector upsert: %w", err)
	}
	defer stmt.Close()

	for _, v := range vectors {
		if _, err := stmt.ExecContext(ctx, v.ID, encodeVector(v.Values), v.Metadata["text"]); err != nil {
			return fmt.Errorf("upserting vector %q: %w", v.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// EachVector calls fn for every stored vector in insertion order. fn must not
// use the Store, since the scan holds its only connection.
func (s *Store) EachVector(ctx context.Context, fn func(id string, values []float32) error) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id, vector FROM CatalogVector ORDER BY seq")
	if err != nil {
		return fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		values, err := decodeVector(blob)
		if err != nil {
			return fmt.Errorf("vector %q: %w", id, err)
		}
		if err := fn(id, values); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) VectorCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM CatalogVector").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting vectors: %w", err)
	}
	return n, nil
}

// Vectors are stored as little-endian float32s.
func encodeVector(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector of %d bytes", len(buf))
	}
	values := make([]float32, len(buf)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return values, nil
}
