package config

import (
	"bufio"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// NATS Configuration
	NatsURL       string
	Stream        string
	StreamSubject string
	ClientID      string
	MaxMsgs       int
	MaxAge        time.Duration
	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int
	Concurrency   int

	// Monitoring Configuration
	MonitoringTopic       string
	BackpressureThreshold int
	HeartbeatInterval     time.Duration

	// HTTP Configuration
	HTTPAddr string

	// Dispatch Configuration
	ChunkSize     int
	InvokeTimeout time.Duration
	ModelCatalog  string
	OutputDir     string

	// Worker Configuration
	WorkerModel string
	BackendURL  string

	// Data Directory Configuration
	DataDir string

	// Database Configuration
	DBPath string
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := loadDotEnv(envFile); err != nil {
			slog.Warn("Could not load env file", "file", envFile, "error", err)
		} else {
			slog.Info("Environment loaded", "file", envFile)
		}
	}

	return &Config{
		NatsURL:               getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		Stream:                getEnv("STREAM_NAME", "HELIX"),
		StreamSubject:         getEnv("STREAM_SUBJECT", "helix.infer.>"),
		ClientID:              getEnv("CLIENT_ID", "helix"),
		MaxMsgs:               getEnvInt("QUEUE_MAX_MSGS", 2000),
		MaxAge:                getEnvDuration("QUEUE_MAX_AGE", "2h"),
		AckWait:               getEnvDuration("ACK_WAIT", "2h"),
		MaxDeliver:            getEnvInt("MAX_DELIVER", 1),
		MaxAckPending:         getEnvInt("MAX_ACK_PENDING", 64),
		Concurrency:           getEnvInt("WORKER_CONCURRENCY", 1),
		MonitoringTopic:       getEnv("MONITORING_TOPIC", "monitoring.backpressure"),
		BackpressureThreshold: getEnvInt("BACKPRESSURE_THRESHOLD", 8),
		HeartbeatInterval:     getEnvDuration("HEARTBEAT_INTERVAL", "30s"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8081"),
		ChunkSize:             getEnvInt("HELIX_CHUNK_SIZE", 0),
		InvokeTimeout:         getEnvDuration("INVOKE_TIMEOUT", "0s"),
		ModelCatalog:          getEnv("MODEL_CATALOG", ""),
		OutputDir:             getEnv("OUTPUT_DIR", "out"),
		WorkerModel:           getEnv("WORKER_MODEL", "esmfold"),
		BackendURL:            getEnv("BACKEND_URL", "http://127.0.0.1:9000"),
		DataDir:               getEnv("DATA_DIR", "data"),
		DBPath:                getEnv("DB_PATH", "data/helix.sqlite"),
	}, nil
}

func loadDotEnv(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.Trim(strings.TrimSpace(parts[1]), `"`)
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
		slog.Warn("Ignoring invalid integer", "key", key, "value", val)
	}
	return defaultVal
}

func getEnvDuration(key, defaultVal string) time.Duration {
	val := getEnv(key, defaultVal)
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaultVal)
	return d
}
