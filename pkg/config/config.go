package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
		BaseURL string
		WSPath  string
	}

	// Database configuration
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// Redis configuration (presence mirror; optional)
	Redis struct {
		Enabled bool
		Addr    string
		DB      int
		KeyTTL  time.Duration
	}

	// Relay configuration
	Relay struct {
		WelcomeDelay   time.Duration
		ReplyDelayMin  time.Duration
		ReplyDelaySpan time.Duration
		PingInterval   time.Duration
		WriteWait      time.Duration
		PongWait       time.Duration
		MaxMessageSize int64
	}

	// Client (connection manager / orchestrator) configuration
	Client struct {
		HeartbeatInterval    time.Duration
		ReconnectBaseDelay   time.Duration
		ReconnectMaxDelay    time.Duration
		MaxReconnectAttempts int
		HandshakeTimeout     time.Duration
		StateDir             string
		RequestTimeout       time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		MaxBodySize    int64
		MaxUploadSize  int64
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Upload storage settings
	Uploads struct {
		Dir     string
		BaseURL string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = &Config{}

		// Server config
		instance.Server.Port = getEnvString("PORT", "8080")
		instance.Server.Env = getEnvString("APP_ENV", "development")
		instance.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
		instance.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+instance.Server.Port)
		instance.Server.WSPath = getEnvString("WS_PATH", "/ws/support")

		// Database config
		instance.Database.Host = getEnvString("DB_HOST", "localhost")
		instance.Database.Port = getEnvString("DB_PORT", "5432")
		instance.Database.User = getEnvString("DB_USER", "postgres")
		instance.Database.Password = getEnvString("DB_PASSWORD", "postgres")
		instance.Database.Name = getEnvString("DB_NAME", "support-chat")
		instance.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
		instance.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
		instance.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

		// Redis config
		instance.Redis.Enabled = getEnvBool("REDIS_ENABLED", false)
		instance.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
		instance.Redis.DB = getEnvInt("REDIS_DB", 0)
		instance.Redis.KeyTTL = getEnvDuration("REDIS_PRESENCE_TTL", 2*time.Minute)

		// Relay config
		instance.Relay.WelcomeDelay = getEnvDuration("RELAY_WELCOME_DELAY", 2*time.Second)
		instance.Relay.ReplyDelayMin = getEnvDuration("RELAY_REPLY_DELAY_MIN", 1500*time.Millisecond)
		instance.Relay.ReplyDelaySpan = getEnvDuration("RELAY_REPLY_DELAY_SPAN", 3*time.Second)
		instance.Relay.PingInterval = getEnvDuration("RELAY_PING_INTERVAL", 30*time.Second)
		instance.Relay.WriteWait = getEnvDuration("RELAY_WRITE_WAIT", 10*time.Second)
		instance.Relay.PongWait = getEnvDuration("RELAY_PONG_WAIT", 60*time.Second)
		instance.Relay.MaxMessageSize = getEnvInt64("RELAY_MAX_MESSAGE_SIZE", 512*1024)

		// Client config
		instance.Client.HeartbeatInterval = getEnvDuration("CLIENT_HEARTBEAT_INTERVAL", 30*time.Second)
		instance.Client.ReconnectBaseDelay = getEnvDuration("CLIENT_RECONNECT_BASE_DELAY", time.Second)
		instance.Client.ReconnectMaxDelay = getEnvDuration("CLIENT_RECONNECT_MAX_DELAY", 30*time.Second)
		instance.Client.MaxReconnectAttempts = getEnvInt("CLIENT_MAX_RECONNECT_ATTEMPTS", 5)
		instance.Client.HandshakeTimeout = getEnvDuration("CLIENT_HANDSHAKE_TIMEOUT", 10*time.Second)
		instance.Client.StateDir = getEnvString("CLIENT_STATE_DIR", defaultStateDir())
		instance.Client.RequestTimeout = getEnvDuration("CLIENT_REQUEST_TIMEOUT", 15*time.Second)

		// Security config
		instance.Security.RateLimit = float64(getEnvInt("RATE_LIMIT", 5))
		instance.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
		instance.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
		instance.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 10<<20) // 10MB
		instance.Security.MaxUploadSize = getEnvInt64("MAX_UPLOAD_SIZE", 25<<20)

		// Logging config
		instance.Logging.Level = getEnvString("LOG_LEVEL", "info")
		instance.Logging.Format = getEnvString("LOG_FORMAT", "json")

		// Upload storage
		instance.Uploads.Dir = getEnvString("UPLOADS_DIR", "uploads")
		instance.Uploads.BaseURL = getEnvString("UPLOADS_BASE_URL", "/uploads")
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/support-chat"
	}
	return ".support-chat"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
