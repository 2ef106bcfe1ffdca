package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration read from the environment.
type Config struct {
	GRPCPort    string
	HTTPPort    string
	SidecarURL  string
	CORSOrigins string

	SidecarTimeout   time.Duration
	FrameRateFPS     int
	FrameBurst       int
	MaxMessageSizeMB int
	MaxFramePixels   int
	MaxSessions      int
	SessionIdleTime  time.Duration
	LogLevel         string
	Environment      string

	DetectionConfigPath string
	FaceCascadePath     string

	DBDriver   string
	SQLitePath string
	DBName     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string

	envFileLoaded bool
}

// DSN returns the data source name for DBDriver.
func (p *Config) DSN() string {
	if p.DBDriver == "sqlite3" {
		return p.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBPassword, p.DBName, p.DBSSLMode)
}

// DSNForLog is DSN with the password masked.
func (p *Config) DSNForLog() string {
	if p.DBDriver == "sqlite3" {
		return p.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=*** dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBName, p.DBSSLMode)
}

func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

func (c *Config) MaxMessageSize() int {
	return c.MaxMessageSizeMB * 1024 * 1024
}

// Warnings lists configuration problems worth logging at startup.
func (c *Config) Warnings() []string {
	var out []string
	if !c.envFileLoaded {
		out = append(out, "no .env file found, using system environment variables")
	}
	if c.DBDriver == "pgx" && c.DBPassword == "" {
		out = append(out, "DB_PASSWORD is not set")
	}
	if c.SidecarURL == "" {
		out = append(out, "SIDECAR_URL is not set, landmark and model adapters are disabled")
	}
	return out
}

func LoadConfig() *Config {
	loaded := godotenv.Load() == nil

	cfg := &Config{
		GRPCPort:            getEnv("GRPC_PORT", "50051"),
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		SidecarURL:          getEnv("SIDECAR_URL", "localhost:9000"),
		CORSOrigins:         getEnv("CORS_ORIGINS", "*"),
		SidecarTimeout:      time.Duration(getEnvInt("SIDECAR_TIMEOUT_MS", 0)) * time.Millisecond,
		FrameRateFPS:        getEnvInt("FRAME_RATE_FPS", 30),
		FrameBurst:          getEnvInt("FRAME_BURST", 5),
		MaxMessageSizeMB:    getEnvInt("MAX_MESSAGE_SIZE_MB", 50),
		MaxFramePixels:      getEnvInt("MAX_FRAME_PIXELS", 1920*1080),
		MaxSessions:         getEnvInt("MAX_SESSIONS", 32),
		SessionIdleTime:     time.Duration(getEnvInt("SESSION_IDLE_TIMEOUT_SEC", 300)) * time.Second,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Environment:         getEnv("ENVIRONMENT", "production"),
		DetectionConfigPath: getEnv("DETECTION_CONFIG", "config.yaml"),
		FaceCascadePath:     getEnv("FACE_CASCADE_PATH", ""),
		DBDriver:            getEnv("DB_DRIVER", "sqlite3"),
		SQLitePath:          getEnv("SQLITE_PATH", "drivepaddy.db"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "postgres"),
		DBPassword:          getEnv("DB_PASSWORD", ""),
		DBName:              getEnv("DB_NAME", "drivepaddy"),
		DBSSLMode:           getEnv("DB_SSLMODE", "disable"),
		MQTTBroker:          getEnv("MQTT_BROKER", ""),
		MQTTClientID:        getEnv("MQTT_CLIENT_ID", "drivepaddy"),
		MQTTTopicPrefix:     getEnv("MQTT_TOPIC_PREFIX", "drivepaddy"),
		envFileLoaded:       loaded,
	}
	return cfg
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	return defaultVal
}
