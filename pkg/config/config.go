package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	SQLite      SQLiteConfig
	Redis       RedisConfig
	Milvus      MilvusConfig
	Neo4j       Neo4jConfig
	Oracle      OracleConfig
	Curation    CurationConfig
	Maintenance MaintenanceConfig
	Ingestion   IngestionConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type OracleConfig struct {
	Provider       string
	Model          string
	VisionModel    string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type CurationConfig struct {
	BatchSize           int
	Concurrency         int
	BatchTimeoutSec     int
	AutoRemoveThreshold float64
	ReviewThreshold     float64
	MaxAutoRemove       int
	SafeModeDays        int
	FullCoverageChunks  int
	MinCoverageRatio    float64
	MaxGapSuggestions   int
}

type MaintenanceConfig struct {
	SweepIntervalMin  int
	StuckThresholdMin int
	MaxRepairAttempts int
	RepairBatchSize   int
	CleanupBatchSize  int
	SettleDelaySec    int
}

type IngestionConfig struct {
	ChunkSize            int
	ChunkOverlap         int
	MinPagesForCheck     int
	MinChunksPerPage     float64
	MinTotalChunks       int
	MaxExtractionRetries int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/kb-curator")

	viper.SetEnvPrefix("KB_CURATOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 20971520)

	viper.SetDefault("sqlite.path", "./data/curator.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "kb_chunks")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")

	viper.SetDefault("oracle.provider", "openai")
	viper.SetDefault("oracle.model", "gpt-4o-mini")
	viper.SetDefault("oracle.visionModel", "gpt-4o")
	viper.SetDefault("oracle.temperature", 0.2)
	viper.SetDefault("oracle.maxTokens", 1024)
	viper.SetDefault("oracle.timeoutSec", 30)
	viper.SetDefault("oracle.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("oracle.embeddingDim", 1536)

	viper.SetDefault("curation.batchSize", 20)
	viper.SetDefault("curation.concurrency", 5)
	viper.SetDefault("curation.batchTimeoutSec", 45)
	viper.SetDefault("curation.autoRemoveThreshold", 0.5)
	viper.SetDefault("curation.reviewThreshold", 0.65)
	viper.SetDefault("curation.maxAutoRemove", 50)
	viper.SetDefault("curation.safeModeDays", 7)
	viper.SetDefault("curation.fullCoverageChunks", 3)
	viper.SetDefault("curation.minCoverageRatio", 0.3)
	viper.SetDefault("curation.maxGapSuggestions", 5)

	viper.SetDefault("maintenance.sweepIntervalMin", 15)
	viper.SetDefault("maintenance.stuckThresholdMin", 10)
	viper.SetDefault("maintenance.maxRepairAttempts", 3)
	viper.SetDefault("maintenance.repairBatchSize", 5)
	viper.SetDefault("maintenance.cleanupBatchSize", 100)
	viper.SetDefault("maintenance.settleDelaySec", 2)

	viper.SetDefault("ingestion.chunkSize", 1000)
	viper.SetDefault("ingestion.chunkOverlap", 100)
	viper.SetDefault("ingestion.minPagesForCheck", 3)
	viper.SetDefault("ingestion.minChunksPerPage", 0.8)
	viper.SetDefault("ingestion.minTotalChunks", 5)
	viper.SetDefault("ingestion.maxExtractionRetries", 2)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
