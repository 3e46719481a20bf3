package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/markdave123-py/dossier/internal/core"
)

var _ core.VectorStore = (*QdrantStore)(nil)

const (
	payloadChunkID = "chunk_id"
	payloadText    = "text"
	payloadBatch   = "document_id"
)

// QdrantStore keeps chunks as Qdrant points. Point ids are UUIDv5 of the chunk id,
// which is also kept in the payload so hits report the original id.
type QdrantStore struct {
	client   *qdrant.Client
	embedder core.EmbeddingProvider
	dim      uint64
}

func NewQdrantStore(host string, port int, apiKey string, dim int, embedder core.EmbeddingProvider) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &QdrantStore{client: client, embedder: embedder, dim: uint64(dim)}, nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// EnsureCollection creates a cosine collection unless it already exists.
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("%w: check collection %s: %v", core.ErrVectorStore, collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %v", core.ErrVectorStore, collection, err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, ids, texts []string, metadatas []map[string]any) error {
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

	points := make([]*qdrant.PointStruct, len(ids))
	for i := range ids {
		payload := make(map[string]any, len(metadatas[i])+2)
		for k, v := range metadatas[i] {
			payload[k] = v
		}
		payload[payloadChunkID] = ids[i]
		payload[payloadText] = texts[i]

		values, err := qdrant.TryValueMap(payload)
		if err != nil {
			return fmt.Errorf("%w: encode payload for %s: %v", core.ErrVectorStore, ids[i], err)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(ids[i])),
			Vectors: qdrant.NewVectors(vecs[i]...),
			Payload: values,
		}
	}

	wait := true
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("%w: upsert: %v", core.ErrVectorStore, err)
	}
	return nil
}

// Query converts Qdrant's cosine score into a distance so that similarity = 1 - distance.
func (s *QdrantStore) Query(ctx context.Context, collection, text string, topK int) ([]core.VectorHit, error) {
	vecs, err := s.embedder.EmbedTexts(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		return nil, fmt.Errorf("%w: embed query: %v", core.ErrVectorStore, err)
	}

	limit := uint64(topK)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vecs[0]...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", core.ErrVectorStore, err)
	}

	out := make([]core.VectorHit, 0, len(points))
	for _, p := range points {
		meta := payloadToMap(p.GetPayload())
		hit := core.VectorHit{Distance: 1 - float64(p.GetScore()), Metadata: meta}
		hit.ID, _ = meta[payloadChunkID].(string)
		hit.Text, _ = meta[payloadText].(string)
		delete(meta, payloadChunkID)
		delete(meta, payloadText)
		out = append(out, hit)
	}
	return out, nil
}

func (s *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = qdrant.NewIDUUID(pointID(id))
	}
	wait := true
	if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(pids...),
	}); err != nil {
		return fmt.Errorf("%w: delete: %v", core.ErrVectorStore, err)
	}
	return nil
}

func (s *QdrantStore) DeleteBatch(ctx context.Context, collection, batchKey string) error {
	wait := true
	if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(payloadBatch, batchKey)},
		}),
	}); err != nil {
		return fmt.Errorf("%w: delete batch %s: %v", core.ErrVectorStore, batchKey, err)
	}
	return nil
}

// pointID derives a stable UUID from a chunk id, since Qdrant only accepts UUIDs or integers.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = kind.BoolValue
		}
	}
	return out
}
