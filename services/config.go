package services

import (
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/krshsl/intervue/backend/scoring"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	Scoring   ScoringConfig
	Retention RetentionConfig
	Analysis  AnalysisConfig
	Feedback  FeedbackConfig
	Session   SessionConfig
	Schedule  ScheduleConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Driver       string
	URL          string
	Seed         bool
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

type JWTConfig struct {
	Secret string
}

type WebSocketConfig struct {
	AllowedOrigins string
}

type ScoringConfig struct {
	Weights scoring.Weights
}

type RetentionConfig struct {
	SessionTTL    time.Duration
	TranscriptTTL time.Duration
	FeedbackTTL   time.Duration
	BatchSize     int
}

type AnalysisConfig struct {
	Backend       string // heuristic, gemini or openai
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	Timeout       time.Duration
}

type FeedbackConfig struct {
	ClaimTTL     time.Duration
	AutoEnhanced bool
}

type SessionConfig struct {
	IdleTimeout time.Duration
}

type ScheduleConfig struct {
	Timezone  string
	Retention string
	Reaper    string
	Rescore   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("websocket.allowed_origins", "")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("database.driver", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.seed", "true")
	viper.SetDefault("database.log_level", "silent")
	viper.SetDefault("database.max_idle_conns", "10")
	viper.SetDefault("database.max_open_conns", "100")

	w := scoring.DefaultWeights()
	viper.SetDefault("scoring.weight_clarity", w.Clarity)
	viper.SetDefault("scoring.weight_conciseness", w.Conciseness)
	viper.SetDefault("scoring.weight_technical_depth", w.TechnicalDepth)
	viper.SetDefault("scoring.weight_star_method", w.StarMethod)

	viper.SetDefault("retention.session_ttl", "8760h")
	viper.SetDefault("retention.transcript_ttl", "2160h")
	viper.SetDefault("retention.feedback_ttl", "8760h")
	viper.SetDefault("retention.batch_size", "500")

	viper.SetDefault("analysis.backend", "heuristic")
	viper.SetDefault("analysis.gemini_api_key", "")
	viper.SetDefault("analysis.gemini_model", "gemini-2.5-flash")
	viper.SetDefault("analysis.openai_api_key", "")
	viper.SetDefault("analysis.openai_model", "gpt-4o-mini")
	viper.SetDefault("analysis.openai_base_url", "")
	viper.SetDefault("analysis.timeout", "30s")

	viper.SetDefault("feedback.claim_ttl", "5m")
	viper.SetDefault("feedback.auto_enhanced", "false")
	viper.SetDefault("session.idle_timeout", "30m")

	viper.SetDefault("schedule.timezone", "UTC")
	viper.SetDefault("schedule.retention", "@every 1h")
	viper.SetDefault("schedule.reaper", "@every 1m")
	viper.SetDefault("schedule.rescore", "@every 10m")

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", "0")

	viper.SetDefault("storage.endpoint", "")
	viper.SetDefault("storage.access_key", "")
	viper.SetDefault("storage.secret_key", "")
	viper.SetDefault("storage.bucket", "interview-audio")
	viper.SetDefault("storage.use_ssl", "false")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size_mb", "100")
	viper.SetDefault("log.max_backups", "5")
	viper.SetDefault("log.max_age_days", "30")

	// Map environment variables to config keys
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS")
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("database.driver", "DATABASE_DRIVER")
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.seed", "DATABASE_SEED")
	viper.BindEnv("database.log_level", "DATABASE_LOG_LEVEL")
	viper.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	viper.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	viper.BindEnv("scoring.weight_clarity", "SCORING_WEIGHT_CLARITY")
	viper.BindEnv("scoring.weight_conciseness", "SCORING_WEIGHT_CONCISENESS")
	viper.BindEnv("scoring.weight_technical_depth", "SCORING_WEIGHT_TECHNICAL_DEPTH")
	viper.BindEnv("scoring.weight_star_method", "SCORING_WEIGHT_STAR_METHOD")
	viper.BindEnv("retention.session_ttl", "RETENTION_SESSION_TTL")
	viper.BindEnv("retention.transcript_ttl", "RETENTION_TRANSCRIPT_TTL")
	viper.BindEnv("retention.feedback_ttl", "RETENTION_FEEDBACK_TTL")
	viper.BindEnv("retention.batch_size", "RETENTION_BATCH_SIZE")
	viper.BindEnv("analysis.backend", "ANALYSIS_BACKEND")
	viper.BindEnv("analysis.gemini_api_key", "GEMINI_API_KEY")
	viper.BindEnv("analysis.gemini_model", "GEMINI_MODEL")
	viper.BindEnv("analysis.openai_api_key", "OPENAI_API_KEY")
	viper.BindEnv("analysis.openai_model", "OPENAI_MODEL")
	viper.BindEnv("analysis.openai_base_url", "OPENAI_BASE_URL")
	viper.BindEnv("analysis.timeout", "ANALYSIS_TIMEOUT")
	viper.BindEnv("feedback.claim_ttl", "FEEDBACK_CLAIM_TTL")
	viper.BindEnv("feedback.auto_enhanced", "FEEDBACK_AUTO_ENHANCED")
	viper.BindEnv("session.idle_timeout", "SESSION_IDLE_TIMEOUT")
	viper.BindEnv("schedule.timezone", "SCHEDULE_TIMEZONE")
	viper.BindEnv("schedule.retention", "SCHEDULE_RETENTION")
	viper.BindEnv("schedule.reaper", "SCHEDULE_REAPER")
	viper.BindEnv("schedule.rescore", "SCHEDULE_RESCORE")
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("storage.endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("storage.access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("storage.secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("storage.bucket", "MINIO_BUCKET")
	viper.BindEnv("storage.use_ssl", "MINIO_USE_SSL")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("log.file", "LOG_FILE")
	viper.BindEnv("log.max_size_mb", "LOG_MAX_SIZE_MB")
	viper.BindEnv("log.max_backups", "LOG_MAX_BACKUPS")
	viper.BindEnv("log.max_age_days", "LOG_MAX_AGE_DAYS")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	weights := scoring.Weights{
		Clarity:        viper.GetFloat64("scoring.weight_clarity"),
		Conciseness:    viper.GetFloat64("scoring.weight_conciseness"),
		TechnicalDepth: viper.GetFloat64("scoring.weight_technical_depth"),
		StarMethod:     viper.GetFloat64("scoring.weight_star_method"),
	}
	if err := weights.Validate(); err != nil {
		slog.Warn("Invalid scoring weights, using defaults", "error", err)
		weights = scoring.DefaultWeights()
	}

	return &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
		},
		Database: DatabaseConfig{
			Driver:       viper.GetString("database.driver"),
			URL:          viper.GetString("database.url"),
			Seed:         viper.GetBool("database.seed"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
		Scoring: ScoringConfig{
			Weights: weights,
		},
		Retention: RetentionConfig{
			SessionTTL:    viper.GetDuration("retention.session_ttl"),
			TranscriptTTL: viper.GetDuration("retention.transcript_ttl"),
			FeedbackTTL:   viper.GetDuration("retention.feedback_ttl"),
			BatchSize:     viper.GetInt("retention.batch_size"),
		},
		Analysis: AnalysisConfig{
			Backend:       viper.GetString("analysis.backend"),
			GeminiAPIKey:  viper.GetString("analysis.gemini_api_key"),
			GeminiModel:   viper.GetString("analysis.gemini_model"),
			OpenAIAPIKey:  viper.GetString("analysis.openai_api_key"),
			OpenAIModel:   viper.GetString("analysis.openai_model"),
			OpenAIBaseURL: viper.GetString("analysis.openai_base_url"),
			Timeout:       viper.GetDuration("analysis.timeout"),
		},
		Feedback: FeedbackConfig{
			ClaimTTL:     viper.GetDuration("feedback.claim_ttl"),
			AutoEnhanced: viper.GetBool("feedback.auto_enhanced"),
		},
		Session: SessionConfig{
			IdleTimeout: viper.GetDuration("session.idle_timeout"),
		},
		Schedule: ScheduleConfig{
			Timezone:  viper.GetString("schedule.timezone"),
			Retention: viper.GetString("schedule.retention"),
			Reaper:    viper.GetString("schedule.reaper"),
			Rescore:   viper.GetString("schedule.rescore"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Storage: StorageConfig{
			Endpoint:  viper.GetString("storage.endpoint"),
			AccessKey: viper.GetString("storage.access_key"),
			SecretKey: viper.GetString("storage.secret_key"),
			Bucket:    viper.GetString("storage.bucket"),
			UseSSL:    viper.GetBool("storage.use_ssl"),
		},
		Log: LogConfig{
			Level:      viper.GetString("log.level"),
			File:       viper.GetString("log.file"),
			MaxSizeMB:  viper.GetInt("log.max_size_mb"),
			MaxBackups: viper.GetInt("log.max_backups"),
			MaxAgeDays: viper.GetInt("log.max_age_days"),
		},
	}
}
