package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Supported storage drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config defines the structure of the configuration file.
type Config struct {
	GitCommit               string         `yaml:"git_commit" envconfig:"BCAT_GIT_COMMIT"`
	GitTag                  string         `yaml:"git_tag" envconfig:"BCAT_GIT_TAG"`
	BuildTime               string         `yaml:"build_time" envconfig:"BCAT_BUILD_TIME"`
	IsProduction            bool           `yaml:"is_production" envconfig:"BCAT_IS_PRODUCTION"`
	LogLevel                zapcore.Level  `yaml:"log_level" envconfig:"BCAT_LOG_LEVEL"`
	LogFolder               string         `yaml:"log_folder" envconfig:"BCAT_LOG_FOLDER"`
	LogMaxSize              int            `yaml:"log_max_size" envconfig:"BCAT_LOG_MAX_SIZE"`
	ProfilerEndpointsEnable bool           `yaml:"profiler_endpoints_enable" envconfig:"BCAT_PROFILER_ENDPOINTS_ENABLE"`
	OpsEndpointsEnable      bool           `yaml:"ops_endpoints_enable" envconfig:"BCAT_OPS_ENDPOINTS_ENABLE"`
	Server                  ServerConfig   `yaml:"server"`
	Storage                 StorageConfig  `yaml:"storage"`
	File                    FileConfig     `yaml:"file"`
	Redis                   RedisConfig    `yaml:"redis"`
	BoltDB                  BoltDBConfig   `yaml:"boltdb"`
	Postgres                SQLConfig      `yaml:"postgres"`
	MySQL                   SQLConfig      `yaml:"mysql"`
	Catalog                 CatalogConfig  `yaml:"catalog"`
	External                ExternalConfig `yaml:"external"`
	Replica                 ReplicaConfig  `yaml:"replica"`
}

type ServerConfig struct {
	Host                    string        `yaml:"host" envconfig:"BCAT_SERVER_HOST"`
	Port                    string        `yaml:"port" envconfig:"BCAT_SERVER_PORT"`
	ReadTimeout             time.Duration `yaml:"read_timeout" envconfig:"BCAT_SERVER_READ_TIMEOUT"`
	WriteTimeout            time.Duration `yaml:"write_timeout" envconfig:"BCAT_SERVER_WRITE_TIMEOUT"`
	RequestTimeout          time.Duration `yaml:"request_timeout" envconfig:"BCAT_SERVER_REQUEST_TIMEOUT"`
	LongRequestWriteTimeout time.Duration `yaml:"long_request_write_timeout" envconfig:"BCAT_SERVER_LONG_REQUEST_WRITE_TIMEOUT"`
	ShutdownTimeout         time.Duration `yaml:"shutdown_timeout" envconfig:"BCAT_SERVER_SHUTDOWN_TIMEOUT"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"BCAT_STORAGE_DRIVER"`
}

type FileConfig struct {
	Path string `yaml:"path" envconfig:"BCAT_FILE_PATH"`
}

type RedisConfig struct {
	Host          string        `yaml:"host" envconfig:"BCAT_REDIS_HOST"`
	Port          string        `yaml:"port" envconfig:"BCAT_REDIS_PORT"`
	DialTimeout   time.Duration `yaml:"dial_timeout" envconfig:"BCAT_REDIS_DIAL_TIMEOUT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"BCAT_REDIS_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"BCAT_REDIS_WRITE_TIMEOUT"`
	PoolSize      int           `yaml:"pool_size" envconfig:"BCAT_REDIS_POOL_SIZE"`
	PoolTimeout   time.Duration `yaml:"pool_timeout" envconfig:"BCAT_REDIS_POOL_TIMEOUT"`
	Username      string        `yaml:"username" envconfig:"BCAT_REDIS_USERNAME"`
	Password      string        `yaml:"password" envconfig:"BCAT_REDIS_PASSWORD"`
	DatabaseIndex int           `yaml:"db_index" envconfig:"BCAT_REDIS_DATABASE_INDEX"`
}

type BoltDBConfig struct {
	FilePath   string        `yaml:"filepath" envconfig:"BCAT_BOLTDB_FILE_PATH"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"BCAT_BOLTDB_TIMEOUT"`
	BucketName string        `yaml:"bucket_name" envconfig:"BCAT_BOLTDB_BUCKET_NAME"`
}

// SQLConfig is shared by the postgres and mysql backends.
// Env keys look like BCAT_POSTGRES_MAX_OPEN_CONNS.
type SQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" split_words:"true"`
	MaxIdleConns    int           `yaml:"max_idle_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" split_words:"true"`
	Debug           bool          `yaml:"debug"`
}

type CatalogConfig struct {
	AutoCreateGenres bool   `yaml:"auto_create_genres" envconfig:"BCAT_CATALOG_AUTO_CREATE_GENRES"`
	SortLocale       string `yaml:"sort_locale" envconfig:"BCAT_CATALOG_SORT_LOCALE"`
	ImportCount      int    `yaml:"import_count" envconfig:"BCAT_CATALOG_IMPORT_COUNT"`
}

type ExternalConfig struct {
	BaseURL string        `yaml:"base_url" envconfig:"BCAT_EXTERNAL_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"BCAT_EXTERNAL_TIMEOUT"`
}

// ReplicaConfig enables the mirroring of every catalog change
// into a local boltdb file through a redis queue.
type ReplicaConfig struct {
	Enabled    bool          `yaml:"enabled" envconfig:"BCAT_REPLICA_ENABLED"`
	FilePath   string        `yaml:"filepath" envconfig:"BCAT_REPLICA_FILE_PATH"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"BCAT_REPLICA_TIMEOUT"`
	BucketName string        `yaml:"bucket_name" envconfig:"BCAT_REPLICA_BUCKET_NAME"`
}

// BoltDB returns the settings of the mirror database.
func (rc ReplicaConfig) BoltDB() *BoltDBConfig {
	return &BoltDBConfig{FilePath: rc.FilePath, Timeout: rc.Timeout, BucketName: rc.BucketName}
}

const redacted = "***"

// Redacted returns a copy of the config without secrets so it can be served.
func (c *Config) Redacted() Config {
	cp := *c
	if cp.Redis.Password != "" {
		cp.Redis.Password = redacted
	}
	if cp.Postgres.DSN != "" {
		cp.Postgres.DSN = redacted
	}
	if cp.MySQL.DSN != "" {
		cp.MySQL.DSN = redacted
	}
	return cp
}

// LoadConfigFile provides an instance of config structure for the all application.
func LoadConfigFile(configFile string) (*Config, error) {
	file, err := os.Open(configFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	cfg := &Config{}
	if err = yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigEnvs reads the environments variables and overrides matching settings.
func LoadConfigEnvs(prefix string, config *Config) error {
	return envconfig.Process(prefix, config)
}

// InitConfig setup defaults values for non provided parameters
// and configures build tags values to be used if provided.
func InitConfig(config *Config, gitCommit, gitTag, buildTime string) error {
	if len(gitCommit) != 0 {
		config.GitCommit = gitCommit
	}

	if len(gitTag) != 0 {
		config.GitTag = gitTag
	}

	if len(buildTime) != 0 {
		config.BuildTime = buildTime
	}

	if len(config.Server.Host) == 0 || len(config.Server.Port) == 0 {
		return errors.New("make sure to set valid server address and port in configuration file")
	}

	if config.Server.RequestTimeout <= 0 {
		config.Server.RequestTimeout = 30 * time.Second
	}

	if config.Server.ShutdownTimeout <= 0 {
		config.Server.ShutdownTimeout = 10 * time.Second
	}

	if config.LogMaxSize <= 0 {
		config.LogMaxSize = 10
	}

	if config.LogFolder == "" {
		config.LogFolder = "./logs"
	}

	if config.Storage.Driver == "" {
		config.Storage.Driver = DriverMemory
	}

	switch config.Storage.Driver {
	case DriverMemory:
	case DriverFile:
		if config.File.Path == "" {
			config.File.Path = "./data/books.json"
		}
	case DriverRedis:
		if len(config.Redis.Host) == 0 || len(config.Redis.Port) == 0 {
			return errors.New("make sure to set valid redis address and port in configuration file")
		}
	case DriverBolt:
		if config.BoltDB.FilePath == "" || config.BoltDB.BucketName == "" {
			return errors.New("make sure to set valid boltdb file path and bucket name in configuration file")
		}
	case DriverPostgres:
		if config.Postgres.DSN == "" {
			return errors.New("make sure to set a valid postgres dsn in configuration file")
		}
	case DriverMySQL:
		if config.MySQL.DSN == "" {
			return errors.New("make sure to set a valid mysql dsn in configuration file")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", config.Storage.Driver)
	}

	if config.Replica.Enabled {
		if len(config.Redis.Host) == 0 || len(config.Redis.Port) == 0 {
			return errors.New("replica mode requires a valid redis address and port")
		}
		if config.Replica.FilePath == "" || config.Replica.BucketName == "" {
			return errors.New("replica mode requires a valid boltdb file path and bucket name")
		}
	}

	if config.Catalog.SortLocale == "" {
		config.Catalog.SortLocale = "en"
	}

	if config.Catalog.ImportCount <= 0 {
		config.Catalog.ImportCount = 3
	}

	if config.External.BaseURL == "" {
		config.External.BaseURL = "https://jsonplaceholder.typicode.com"
	}

	if config.External.Timeout <= 0 {
		config.External.Timeout = 10 * time.Second
	}

	return nil
}

// LoadAndInitConfigs loads in order the configs from various predefined sources
// then build the App configuration data.
func LoadAndInitConfigs(gitCommit, gitTag, buildTime string) (*Config, error) {
	config, err := LoadConfigFile("./config.yml")
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from file: %s", err)
	}

	// The env file is optional. Real environment variables still apply.
	err = godotenv.Load("./config.env")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("failed to set environment configurations: %s", err)
	}

	err = LoadConfigEnvs("BCAT", config)
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from environment: %s", err)
	}

	err = InitConfig(config, gitCommit, gitTag, buildTime)
	if err != nil {
		return config, fmt.Errorf("failed to initialize configurations: %s", err)
	}
	return config, nil
}
