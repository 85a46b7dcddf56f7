package config

import (
	"log"
	"os"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName string `toml:"appName"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

type LogConfig struct {
	LogPath string `toml:"logPath"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`
}

type MilvusConfig struct {
	Address    string `toml:"address"`
	Username   string `toml:"username"`
	Password   string `toml:"password"`
	DBName     string `toml:"dbName"`
	MetricType string `toml:"metricType"`
}

type KafkaConfig struct {
	Enabled         bool     `toml:"enabled"`
	Brokers         []string `toml:"brokers"`
	ClientID        string   `toml:"clientID"`
	IngestTopic     string   `toml:"ingestTopic"`
	ConsumerGroupID string   `toml:"consumerGroupID"`
	Partitions      int32    `toml:"partitions"`
	Replication     int16    `toml:"replication"`
}

type RedisConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"poolSize"`
	MinIdleConns int    `toml:"minIdleConns"`
}

// EmbeddingVariantConfig describes one embedding model and the Milvus
// collection its vectors live in. Several variants may be active at once;
// exactly one should be marked primary.
type EmbeddingVariantConfig struct {
	Name           string `toml:"name"`
	Provider       string `toml:"provider"`
	APIKey         string `toml:"apiKey"`
	BaseURL        string `toml:"baseURL"`
	Model          string `toml:"model"`
	Dimensions     int    `toml:"dimensions"`
	CollectionName string `toml:"collectionName"`
	Primary        bool   `toml:"primary"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
}

type AIChatModelConfig struct {
	Provider        string `toml:"provider"`
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	RetryTimes      int    `toml:"retryTimes"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

type AIConfig struct {
	Embedding []EmbeddingVariantConfig `toml:"embedding"`
	ChatModel AIChatModelConfig        `toml:"chatModel"`
}

// RagConfig tunes the retrieval and generation pipelines.
type RagConfig struct {
	TopK            int     `toml:"topK"`            // retrieval depth, default 5
	HistoryWindow   int     `toml:"historyWindow"`   // messages fed to reformulation/prompt, default 10
	MaxHistory      int     `toml:"maxHistory"`      // cap on unbounded history reads, default 50
	MergePolicy     string  `toml:"mergePolicy"`     // "primary" (default) or "merge"
	RetryAttempts   int     `toml:"retryAttempts"`   // model retry budget, default 6
	RetryBaseMs     int     `toml:"retryBaseMs"`     // first backoff delay, default 200
	ScoreThreshold  float32 `toml:"scoreThreshold"`  // drop hits below this similarity
	MaxContentChars int     `toml:"maxContentChars"` // context budget for the prompt
	AllowUngrounded bool    `toml:"allowUngrounded"` // answer without context when retrieval fails
	ChunkSize       int     `toml:"chunkSize"`       // chunk length in runes, default 800
	ChunkOverlap    int     `toml:"chunkOverlap"`    // overlap between chunks, default chunkSize/8
}

type Config struct {
	MainConfig   `toml:"mainConfig"`
	MysqlConfig  `toml:"mysqlConfig"`
	JwtConfig    `toml:"jwtConfig"`
	MilvusConfig `toml:"milvusConfig"`
	KafkaConfig  `toml:"kafkaConfig"`
	AIConfig     `toml:"aiConfig"`
	RagConfig    `toml:"ragConfig"`
	LogConfig    `toml:"logConfig"`
	RedisConfig  `toml:"redisConfig"`
}

var config *Config

func LoadConfig() error {
	configPath := os.Getenv("VNSTOCKRAG_CONFIG")
	if configPath == "" {
		configPath = "configs/config_local.toml"
	}
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		log.Printf("failed to load config file %s: %v, falling back to defaults", configPath, err)
		return err
	}
	return nil
}

func GetConfig() *Config {
	if config == nil {
		config = new(Config)
		_ = LoadConfig()
	}
	return config
}

// PrimaryEmbedding returns the variant marked primary, or the first one.
func (c *Config) PrimaryEmbedding() *EmbeddingVariantConfig {
	for i := range c.AIConfig.Embedding {
		if c.AIConfig.Embedding[i].Primary {
			return &c.AIConfig.Embedding[i]
		}
	}
	if len(c.AIConfig.Embedding) > 0 {
		return &c.AIConfig.Embedding[0]
	}
	return nil
}
