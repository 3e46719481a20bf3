// Package vectorstore holds the vector store backends used for chunk retrieval.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/dossier/internal/core"
)

var _ core.VectorStore = (*PgVectorStore)(nil)

// PgVectorStore keeps chunk embeddings in Postgres next to the metadata tables.
// Texts are embedded client-side; distance is cosine distance (embedding <=> query).
type PgVectorStore struct {
	db       *sql.DB
	embedder core.EmbeddingProvider
}

func NewPgVectorStore(db *sql.DB, embedder core.EmbeddingProvider) *PgVectorStore {
	return &PgVectorStore{db: db, embedder: embedder}
}

// EnsureCollection registers the collection name; repeated calls are no-ops.
func (s *PgVectorStore) EnsureCollection(ctx context.Context, collection string) error {
	const q = `INSERT INTO vector_collections (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, collection); err != nil {
		return fmt.Errorf("%w: ensure collection %s: %v", core.ErrVectorStore, collection, err)
	}
	return nil
}

// Upsert embeds texts and writes them in a single transaction.
func (s *PgVectorStore) Upsert(ctx context.Context, collection string, ids, texts []string, metadatas []map[string]any) error {
	if len(ids) != len(texts) || len(ids) != len(metadatas) {
		return fmt.Errorf("%w: upsert: %d ids, %d texts, %d metadatas", core.ErrVectorStore, len(ids), len(texts), len(metadatas))
	}
	if len(ids) == 0 {
		return nil
	}

	vecs, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: embed: %v", core.ErrVectorStore, err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("%w: embed size mismatch: got %d want %d", core.ErrVectorStore, len(vecs), len(texts))
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", core.ErrVectorStore, err)
	}

	const q = `
		INSERT INTO vector_entries (collection, id, batch_key, text, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (collection, id) DO UPDATE
		SET batch_key = EXCLUDED.batch_key, text = EXCLUDED.text,
		    metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: prepare: %v", core.ErrVectorStore, err)
	}
	defer stmt.Close()

	for i := range ids {
		meta, err := json.Marshal(metadatas[i])
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: encode metadata for %s: %v", core.ErrVectorStore, ids[i], err)
		}
		batchKey, _ := metadatas[i]["document_id"].(string)

		if _, err := stmt.ExecContext(ctx,
			collection, ids[i], batchKey, texts[i], string(meta), pgvector.NewVector(vecs[i]),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: insert %s: %v", core.ErrVectorStore, ids[i], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", core.ErrVectorStore, err)
	}
	return nil
}

// Query returns the topK nearest entries, nearest first.
func (s *PgVectorStore) Query(ctx context.Context, collection, text string, topK int) ([]core.VectorHit, error) {
	vecs, err := s.embedder.EmbedTexts(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		return nil, fmt.Errorf("%w: embed query: %v", core.ErrVectorStore, err)
	}

	const q = `
		SELECT id, text, metadata, embedding <=> $2 AS distance
		FROM vector_entries
		WHERE collection = $1
		ORDER BY distance
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, q, collection, pgvector.NewVector(vecs[0]), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", core.ErrVectorStore, err)
	}
	defer rows.Close()

	var out []core.VectorHit
	for rows.Next() {
		var (
			hit  core.VectorHit
			meta []byte
		)
		if err := rows.Scan(&hit.ID, &hit.Text, &meta, &hit.Distance); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", core.ErrVectorStore, err)
		}
		if err := json.Unmarshal(meta, &hit.Metadata); err != nil {
			return nil, fmt.Errorf("%w: decode metadata for %s: %v", core.ErrVectorStore, hit.ID, err)
		}
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", core.ErrVectorStore, err)
	}
	return out, nil
}

func (s *PgVectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `DELETE FROM vector_entries WHERE collection = $1 AND id = ANY($2)`
	if _, err := s.db.ExecContext(ctx, q, collection, ids); err != nil {
		return fmt.Errorf("%w: delete: %v", core.ErrVectorStore, err)
	}
	return nil
}

func (s *PgVectorStore) DeleteBatch(ctx context.Context, collection, batchKey string) error {
	const q = `DELETE FROM vector_entries WHERE collection = $1 AND batch_key = $2`
	if _, err := s.db.ExecContext(ctx, q, collection, batchKey); err != nil {
		return fmt.Errorf("%w: delete batch %s: %v", core.ErrVectorStore, batchKey, err)
	}
	return nil
}
