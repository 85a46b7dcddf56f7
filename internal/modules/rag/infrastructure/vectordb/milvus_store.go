package vectordb

import (
	"context"
	"fmt"
	"strings"

	"VnStockRAG/internal/modules/rag/domain/repository"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// CollectionSpec names one collection and the vector dimensionality it
// expects; every upsert and search is checked against it.
type CollectionSpec struct {
	Name string
	Dim  int
}

// MilvusStore adapts the Milvus SDK to the domain VectorStore interface.
// One store handles all collections (one per embedding variant).
type MilvusStore struct {
	cli         mclient.Client
	dims        map[string]int
	vectorField string
}

var _ repository.VectorStore = (*MilvusStore)(nil)

func NewMilvusStore(cli mclient.Client, specs []CollectionSpec) (*MilvusStore, error) {
	if cli == nil {
		return nil, fmt.Errorf("milvus client is nil")
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no collections configured")
	}

	dims := make(map[string]int, len(specs))
	for _, spec := range specs {
		if strings.TrimSpace(spec.Name) == "" || spec.Dim <= 0 {
			return nil, fmt.Errorf("invalid collection spec %q dim=%d", spec.Name, spec.Dim)
		}
		dims[spec.Name] = spec.Dim
	}
	return &MilvusStore{cli: cli, dims: dims, vectorField: "vector"}, nil
}

func (s *MilvusStore) dim(collection string) (int, error) {
	d, ok := s.dims[collection]
	if !ok {
		return 0, fmt.Errorf("unknown collection: %s", collection)
	}
	return d, nil
}

func (s *MilvusStore) Upsert(ctx context.Context, collection string, items []repository.VectorUpsertItem) ([]string, error) {
	if len(items) == 0 {
		return []string{}, nil
	}
	dim, err := s.dim(collection)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(items))
	vectors := make([][]float32, 0, len(items))
	docIDs := make([]string, 0, len(items))
	titles := make([]string, 0, len(items))
	links := make([]string, 0, len(items))
	sources := make([]string, 0, len(items))
	newsDates := make([]string, 0, len(items))
	chunkIndexes := make([]int64, 0, len(items))
	contents := make([]string, 0, len(items))

	for _, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("upsert item missing ID")
		}
		if len(it.Vector) != dim {
			return nil, fmt.Errorf("vector dim mismatch for id=%s: got=%d want=%d", it.ID, len(it.Vector), dim)
		}

		ids = append(ids, it.ID)
		vectors = append(vectors, it.Vector)
		docIDs = append(docIDs, it.DocID)
		titles = append(titles, it.Title)
		links = append(links, it.Link)
		sources = append(sources, it.Source)
		newsDates = append(newsDates, it.NewsDate)
		chunkIndexes = append(chunkIndexes, it.ChunkIndex)
		contents = append(contents, it.Content)
	}

	_, err = s.cli.Upsert(
		ctx,
		collection,
		"", // partition
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector(s.vectorField, dim, vectors),
		entity.NewColumnVarChar("doc_id", docIDs),
		entity.NewColumnVarChar("title", titles),
		entity.NewColumnVarChar("link", links),
		entity.NewColumnVarChar("source", sources),
		entity.NewColumnVarChar("news_date", newsDates),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnVarChar("content", contents),
	)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *MilvusStore) Search(ctx context.Context, collection string, vector []float32, topK int, expr string) ([]repository.VectorSearchHit, error) {
	dim, err := s.dim(collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("query vector dim mismatch: got=%d want=%d", len(vector), dim)
	}

	sp, _ := entity.NewIndexAUTOINDEXSearchParam(1)

	res, err := s.cli.Search(
		ctx,
		collection,
		nil,
		expr,
		[]string{"id", "doc_id", "title", "link", "source", "news_date", "chunk_index", "content"},
		[]entity.Vector{entity.FloatVector(vector)},
		s.vectorField,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, err
	}

	hits := make([]repository.VectorSearchHit, 0)
	if len(res) == 0 {
		return hits, nil
	}

	sr := res[0]
	if sr.Err != nil {
		return nil, sr.Err
	}

	getCol := func(name string) entity.Column {
		for _, c := range sr.Fields {
			if c.Name() == name {
				return c
			}
		}
		return nil
	}

	docIDCol := getCol("doc_id")
	titleCol := getCol("title")
	linkCol := getCol("link")
	sourceCol := getCol("source")
	dateCol := getCol("news_date")
	chunkIdxCol := getCol("chunk_index")
	contentCol := getCol("content")

	for i := 0; i < sr.ResultCount; i++ {
		id, _ := sr.IDs.GetAsString(i)

		hit := repository.VectorSearchHit{
			ID:    id,
			Score: sr.Scores[i],
		}
		if docIDCol != nil {
			v, _ := docIDCol.GetAsString(i)
			hit.DocID = v
		}
		if titleCol != nil {
			v, _ := titleCol.GetAsString(i)
			hit.Title = v
		}
		if linkCol != nil {
			v, _ := linkCol.GetAsString(i)
			hit.Link = v
		}
		if sourceCol != nil {
			v, _ := sourceCol.GetAsString(i)
			hit.Source = v
		}
		if dateCol != nil {
			v, _ := dateCol.GetAsString(i)
			hit.NewsDate = v
		}
		if chunkIdxCol != nil {
			v, _ := chunkIdxCol.GetAsInt64(i)
			hit.ChunkIndex = v
		}
		if contentCol != nil {
			v, _ := contentCol.GetAsString(i)
			hit.Content = v
		}

		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *MilvusStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.dim(collection); err != nil {
		return err
	}
	expr := fmt.Sprintf(`id in ["%s"]`, strings.Join(ids, `","`))
	return s.cli.Delete(ctx, collection, "", expr)
}
