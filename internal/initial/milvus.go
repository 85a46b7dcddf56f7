package initial

import (
	"context"
	"fmt"
	"strings"

	"VnStockRAG/internal/config"
	"VnStockRAG/pkg/zlog"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

var MilvusClient mclient.Client

func init() {
	conf := config.GetConfig()
	if strings.TrimSpace(conf.MilvusConfig.Address) == "" {
		zlog.Fatal("milvus address is not configured, vector search needs it")
		return
	}

	cli, err := newMilvusClientAndEnsureSchema(context.Background(), conf)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("milvus init failed: %v", err))
		return
	}
	MilvusClient = cli
}

// newMilvusClientAndEnsureSchema connects, creates the database if missing,
// and ensures one collection per configured embedding variant.
func newMilvusClientAndEnsureSchema(ctx context.Context, conf *config.Config) (mclient.Client, error) {
	addr := strings.TrimSpace(conf.MilvusConfig.Address)
	dbName := strings.TrimSpace(conf.MilvusConfig.DBName)
	if dbName == "" {
		dbName = "vnstockrag"
	}

	defaultCli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  addr,
		Username: strings.TrimSpace(conf.MilvusConfig.Username),
		Password: strings.TrimSpace(conf.MilvusConfig.Password),
		DBName:   "default",
	})
	if err != nil {
		return nil, err
	}
	defer defaultCli.Close()

	dbs, err := defaultCli.ListDatabases(ctx)
	if err != nil {
		return nil, err
	}
	dbExists := false
	for _, db := range dbs {
		if db.Name == dbName {
			dbExists = true
			break
		}
	}
	if !dbExists {
		if err := defaultCli.CreateDatabase(ctx, dbName); err != nil {
			return nil, err
		}
	}

	cli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  addr,
		Username: strings.TrimSpace(conf.MilvusConfig.Username),
		Password: strings.TrimSpace(conf.MilvusConfig.Password),
		DBName:   dbName,
	})
	if err != nil {
		return nil, err
	}

	for i := range conf.AIConfig.Embedding {
		vc := &conf.AIConfig.Embedding[i]
		if err := ensureCollection(ctx, cli, vc); err != nil {
			_ = cli.Close()
			return nil, fmt.Errorf("ensure collection %s: %w", vc.CollectionName, err)
		}
	}
	return cli, nil
}

func ensureCollection(ctx context.Context, cli mclient.Client, vc *config.EmbeddingVariantConfig) error {
	name := strings.TrimSpace(vc.CollectionName)
	if name == "" {
		return fmt.Errorf("embedding variant %q has no collection name", vc.Name)
	}
	if vc.Dimensions <= 0 {
		return fmt.Errorf("embedding variant %q has no dimensions", vc.Name)
	}

	exists, err := cli.HasCollection(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		schema := &entity.Schema{
			CollectionName: name,
			Description:    fmt.Sprintf("news chunks embedded by %s", vc.Name),
			Fields: []*entity.Field{
				{
					Name:       "id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       "vector",
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{entity.TypeParamDim: fmt.Sprintf("%d", vc.Dimensions)},
				},
				{
					Name:       "doc_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:       "title",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "1024"},
				},
				{
					Name:       "link",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "2048"},
				},
				{
					Name:       "source",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       "news_date",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "32"},
				},
				{
					Name:     "chunk_index",
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       "content",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "8192"},
				},
			},
		}
		if err := cli.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return err
		}

		idx, err := entity.NewIndexAUTOINDEX(entity.COSINE)
		if err != nil {
			return err
		}
		if err := cli.CreateIndex(ctx, name, "vector", idx, false); err != nil {
			return err
		}
	}

	return cli.LoadCollection(ctx, name, false)
}
