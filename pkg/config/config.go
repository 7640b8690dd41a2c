package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Elastic  ElasticConfig
	Redis    RedisConfig
	DDX      ModelConfig
	TTX      ModelConfig
	Snomed   SnomedConfig
	Retry    RetryConfig
	Concept  ConceptConfig
	Audit    AuditConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type DatabaseConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	InitSchema bool
}

// DSN renders the go-sql-driver connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", d.User, d.Password, d.Host, d.Port, d.Name)
}

type ElasticConfig struct {
	Addresses   []string
	DDXIndex    string
	TTXIndex    string
	SnomedIndex string
	SearchIndex string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ModelConfig describes one AI inference endpoint.
type ModelConfig struct {
	Name          string
	URL           string
	PromptVersion int
}

type SnomedConfig struct {
	BaseURL     string
	CacheTTLSec int
}

type RetryConfig struct {
	Total            int
	BackoffFactorSec int
	StatusForcelist  []int
	TimeoutSec       int
}

// ConceptConfig holds the fixed row constants used when the gateway creates
// a concept. These are recorded as-is, never derived.
type ConceptConfig struct {
	CreatorID  int
	SourceID   int
	MapTypeID  int
	ClassID    int
	DatatypeID int
	Retired    int
	IsSet      int
	SetID      int
	NameType   string
	Locale     string
	Timezone   string
}

type AuditConfig struct {
	QueueSize int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	// Deployments drop credentials in ai.env next to the binary; absence is fine.
	_ = godotenv.Load("ai.env")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/medassist")

	viper.SetEnvPrefix("MEDASSIST")
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
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.user", "openmrs")
	viper.SetDefault("database.name", "openmrs")
	viper.SetDefault("database.initSchema", false)

	viper.SetDefault("elastic.addresses", []string{"http://localhost:9200"})
	viper.SetDefault("elastic.ddxIndex", "ddx_req")
	viper.SetDefault("elastic.ttxIndex", "ttx_req")
	viper.SetDefault("elastic.snomedIndex", "snomed_req")
	viper.SetDefault("elastic.searchIndex", "term_req")

	viper.SetDefault("redis.host", "")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("ddx.name", "gemini-2.0-flash")
	viper.SetDefault("ddx.url", "http://127.0.0.1:5050/predict/v1")
	viper.SetDefault("ddx.promptVersion", 1)

	viper.SetDefault("ttx.name", "gemini-2.5-flash-preview-04-17")
	viper.SetDefault("ttx.url", "http://127.0.0.1:5051/ttx/v1")

	viper.SetDefault("snomed.baseURL", "http://localhost:8081")
	viper.SetDefault("snomed.cacheTTLSec", 300)

	viper.SetDefault("retry.total", 3)
	viper.SetDefault("retry.backoffFactorSec", 4)
	viper.SetDefault("retry.statusForcelist", []int{500, 502, 503, 504})
	viper.SetDefault("retry.timeoutSec", 60)

	viper.SetDefault("concept.creatorID", 1)
	viper.SetDefault("concept.sourceID", 1)
	viper.SetDefault("concept.mapTypeID", 1)
	viper.SetDefault("concept.classID", 4)
	viper.SetDefault("concept.datatypeID", 4)
	viper.SetDefault("concept.retired", 0)
	viper.SetDefault("concept.isSet", 0)
	viper.SetDefault("concept.setID", 160168)
	viper.SetDefault("concept.nameType", "FULLY_SPECIFIED")
	viper.SetDefault("concept.locale", "en")
	viper.SetDefault("concept.timezone", "Asia/Calcutta")

	viper.SetDefault("audit.queueSize", 256)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
