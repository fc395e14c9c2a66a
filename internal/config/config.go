package config

import (
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Driver names accepted by the *_DRIVER settings.
const (
	StoreTable    = "table"
	StorePostgres = "postgres"
	StoreRedis    = "redis"

	QueueAzure = "azqueue"
	QueueKafka = "kafka"

	ArchiveAzure = "azblob"
	ArchiveGCS   = "gcs"
)

// Config holds application configuration from environment.
type Config struct {
	HTTPPort string
	LogLevel string

	EnableHTTP    bool
	EnableWorker  bool
	EnableCleanup bool

	// Shared by every Azure Storage driver.
	StorageConnectionString string

	TaskStoreDriver string
	TasksTable      string
	PageSize        int
	DatabaseURL     string
	DBPoolSize      int
	RedisURL        string
	RedisPoolSize   int

	QueueDriver            string
	TodoQueue              string
	QueueMaxDequeue        int
	QueueVisibilityTimeout int // seconds
	QueuePollInterval      int // milliseconds
	KafkaBrokers           []string
	KafkaTopic             string
	KafkaPartitions        int
	KafkaGroupID           string

	ArchiveDriver    string
	ArchiveContainer string
	GCSProjectID     string

	CleanupSchedule string
}

var (
	cfg     *Config
	cfgOnce sync.Once
)

// Get returns the application config (loads once from .env and the environment).
func Get() *Config {
	cfgOnce.Do(func() {
		cfg = Load(viper.New(), ".env")
	})
	return cfg
}

// Load reads configuration into a fresh Config. Environment variables win over
// values from envFile; a missing envFile is not an error.
func Load(v *viper.Viper, envFile string) *Config {
	setDefaults(v)
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig()
	}
	v.AutomaticEnv()

	return &Config{
		HTTPPort:      v.GetString("http_port"),
		LogLevel:      v.GetString("log_level"),
		EnableHTTP:    v.GetBool("enable_http"),
		EnableWorker:  v.GetBool("enable_worker"),
		EnableCleanup: v.GetBool("enable_cleanup"),

		StorageConnectionString: v.GetString("storage_connection_string"),

		TaskStoreDriver: strings.ToLower(v.GetString("task_store_driver")),
		TasksTable:      v.GetString("tasks_table"),
		PageSize:        positive(v.GetInt("page_size"), 1000),
		DatabaseURL:     v.GetString("database_url"),
		DBPoolSize:      positive(v.GetInt("db_pool_size"), 20),
		RedisURL:        v.GetString("redis_url"),
		RedisPoolSize:   positive(v.GetInt("redis_pool_size"), 50),

		QueueDriver:            strings.ToLower(v.GetString("queue_driver")),
		TodoQueue:              v.GetString("todo_queue"),
		QueueMaxDequeue:        positive(v.GetInt("queue_max_dequeue"), 5),
		QueueVisibilityTimeout: positive(v.GetInt("queue_visibility_timeout_sec"), 30),
		QueuePollInterval:      positive(v.GetInt("queue_poll_interval_ms"), 1000),
		KafkaBrokers:           splitList(v.GetString("kafka_brokers")),
		KafkaTopic:             v.GetString("kafka_todo_topic"),
		KafkaPartitions:        positive(v.GetInt("kafka_partitions"), 1),
		KafkaGroupID:           v.GetString("kafka_group_id"),

		ArchiveDriver:    strings.ToLower(v.GetString("archive_driver")),
		ArchiveContainer: v.GetString("archive_container"),
		GCSProjectID:     v.GetString("gcs_project_id"),

		CleanupSchedule: v.GetString("cleanup_schedule"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("enable_http", true)
	v.SetDefault("enable_worker", true)
	v.SetDefault("enable_cleanup", true)

	v.SetDefault("task_store_driver", StoreTable)
	v.SetDefault("tasks_table", "todos")
	v.SetDefault("page_size", 1000)
	v.SetDefault("db_pool_size", 20)
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("redis_pool_size", 50)

	v.SetDefault("queue_driver", QueueAzure)
	v.SetDefault("todo_queue", "todomessages")
	v.SetDefault("queue_max_dequeue", 5)
	v.SetDefault("queue_visibility_timeout_sec", 30)
	v.SetDefault("queue_poll_interval_ms", 1000)
	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_todo_topic", "todo-messages")
	v.SetDefault("kafka_partitions", 1)
	v.SetDefault("kafka_group_id", "todo-archivers")

	v.SetDefault("archive_driver", ArchiveAzure)
	v.SetDefault("archive_container", "todos")

	// second 0 of every minute
	v.SetDefault("cleanup_schedule", "0 * * * * * *")
}

func positive(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
