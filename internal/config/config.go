// Package config loads engine settings: embedded defaults, an optional YAML
// override file, then environment variables.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// FileEnv names the environment variable pointing at an override file.
const FileEnv = "FACE_RETRIEVAL_CONFIG"

// Annotation store backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMariaDB  = "mariadb"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Ranking     RankingConfig     `yaml:"ranking"`
	Features    FeaturesConfig    `yaml:"features"`
	Dataset     DatasetConfig     `yaml:"dataset"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Annotations AnnotationsConfig `yaml:"annotations"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`     // TCP transport
	WebPort         int           `yaml:"web_port"` // HTTP transport
	AllowedOrigins  string        `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RankingConfig struct {
	MaxResults  int     `yaml:"max_results"`
	ScoreCap    float64 `yaml:"score_cap"` // <= 0 disables capping
	Sharded     bool    `yaml:"sharded"`
	ShardSize   int     `yaml:"shard_size"`
	ShardsFile  string  `yaml:"shards_file"`
	GraphM      int     `yaml:"graph_m"`         // neighbors per node, fixed at build time
	EfSearch    int     `yaml:"graph_ef_search"` // candidates collected per approximate shard query
	GraphSearch bool    `yaml:"graph_search"`    // approximate shard queries instead of a full scan
}

type FeaturesConfig struct {
	Dim               int           `yaml:"dim"`
	ExtractionTimeout time.Duration `yaml:"extraction_timeout"`
	Workers           int           `yaml:"workers"`
}

type DatasetConfig struct {
	Name           string `yaml:"name"`
	FeaturesFile   string `yaml:"features_file"`
	ImagesBasePath string `yaml:"images_base_path"`
}

type EmbeddingConfig struct {
	URL         string `yaml:"url"`
	DetectorURL string `yaml:"detector_url"` // defaults to URL
}

type AnnotationsConfig struct {
	Backend string `yaml:"backend"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"` // PostgreSQL connection URL
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	MariaDBDSN   string `yaml:"mariadb_dsn"`
}

type LoggingConfig struct {
	Env   string `yaml:"env"`   // prod, dev, local
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load builds the configuration from defaults, the file named by FACE_RETRIEVAL_CONFIG
// and the environment, in that order of precedence.
func Load() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path := os.Getenv(FileEnv); path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Embedding.DetectorURL == "" {
		cfg.Embedding.DetectorURL = cfg.Embedding.URL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = envString("HOST", c.Server.Host)
	c.Server.Port = envInt("PORT", c.Server.Port)
	c.Server.WebPort = envInt("WEB_PORT", c.Server.WebPort)
	c.Server.AllowedOrigins = envString("WEB_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Ranking.MaxResults = envInt("MAX_RESULTS_RETURN", c.Ranking.MaxResults)
	c.Ranking.ScoreCap = envFloat("MAX_RESULTS_SCORE", c.Ranking.ScoreCap)
	c.Ranking.Sharded = envBool("KDTREES_RANKING_ENABLED", c.Ranking.Sharded)
	c.Ranking.ShardSize = envInt("KDTREES_DATASET_SPLIT_SIZE", c.Ranking.ShardSize)
	c.Ranking.ShardsFile = envString("KDTREES_FILE", c.Ranking.ShardsFile)
	c.Ranking.GraphM = envInt("KDTREES_GRAPH_M", c.Ranking.GraphM)
	c.Ranking.EfSearch = envInt("KDTREES_GRAPH_EF_SEARCH", c.Ranking.EfSearch)
	c.Ranking.GraphSearch = envBool("KDTREES_GRAPH_SEARCH", c.Ranking.GraphSearch)

	c.Features.Dim = envInt("FEATURES_VECTOR_SIZE", c.Features.Dim)
	c.Features.ExtractionTimeout = envDuration("FEATURES_EXTRACTION_TIMEOUT", c.Features.ExtractionTimeout)
	c.Features.Workers = envInt("NUMBER_OF_HELPER_WORKERS", c.Features.Workers)

	c.Dataset.Name = envString("DATASET_NAME", c.Dataset.Name)
	c.Dataset.FeaturesFile = envString("DATASET_FEATS_FILE", c.Dataset.FeaturesFile)
	c.Dataset.ImagesBasePath = envString("DATASET_IMAGES_BASE_PATH", c.Dataset.ImagesBasePath)

	c.Embedding.URL = envString("EMBEDDING_URL", c.Embedding.URL)
	c.Embedding.DetectorURL = envString("DETECTOR_URL", c.Embedding.DetectorURL)

	c.Annotations.Backend = envString("ANNOTATIONS_BACKEND", c.Annotations.Backend)

	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.MariaDBDSN = envString("MARIADB_DSN", c.Database.MariaDBDSN)

	c.Logging.Env = envString("LOG_ENV", c.Logging.Env)
	c.Logging.Level = envString("LOG_LEVEL", c.Logging.Level)
}

// Validate checks the settings the engine cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Features.Workers <= 0 {
		errs = append(errs, errors.New("features.workers must be positive"))
	}
	if c.Features.Dim <= 0 {
		errs = append(errs, errors.New("features.dim must be positive"))
	}
	if c.Features.ExtractionTimeout <= 0 {
		errs = append(errs, errors.New("features.extraction_timeout must be positive"))
	}
	if c.Ranking.MaxResults <= 0 {
		errs = append(errs, errors.New("ranking.max_results must be positive"))
	}
	if c.Ranking.ShardSize <= 0 {
		errs = append(errs, errors.New("ranking.shard_size must be positive"))
	}
	if c.Ranking.GraphM < 3 {
		errs = append(errs, fmt.Errorf("ranking.graph_m must be at least 3, got %d", c.Ranking.GraphM))
	}
	if c.Ranking.EfSearch <= 0 {
		errs = append(errs, errors.New("ranking.graph_ef_search must be positive"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Annotations.Backend {
	case BackendFile:
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("annotations backend postgres needs DATABASE_URL"))
		}
	case BackendMariaDB:
		if c.Database.MariaDBDSN == "" {
			errs = append(errs, errors.New("annotations backend mariadb needs MARIADB_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown annotations backend %q", c.Annotations.Backend))
	}
	return errors.Join(errs...)
}

func envString(key, defaultVal string) string {
	if s, ok := os.LookupEnv(key); ok && s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envDuration accepts a Go duration ("1m30s") or a number of seconds ("10", "2.5").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return time.Duration(f * float64(time.Second))
	}
	return defaultVal
}
