package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort string
	JWTKey  []byte
	JWTExp  time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JudgeBaseURL        string
	JudgeAuthHeaderName string
	JudgeAuthKey        string
	JudgeTimeout        time.Duration

	PollInterval       time.Duration
	PollBatchSize      int
	PollLockKey        string
	PollLockTTLSeconds int
	SubmissionMaxAge   time.Duration

	DefaultTimeLimitSec float64
	LeaderboardCacheTTL time.Duration
}

var AppConfig *Config

func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = &Config{
		APIPort:    getEnv("API_PORT", "8080"),
		JWTKey:     []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp:     time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "user"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "club_portal_db"),
		DBSslMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		JudgeBaseURL:        getEnv("JUDGE_BASE_URL", "http://localhost:2358"),
		JudgeAuthHeaderName: getEnv("JUDGE_AUTH_HEADER", "X-Auth-Token"),
		JudgeAuthKey:        getEnv("JUDGE_AUTH_KEY", ""),
		JudgeTimeout:        time.Duration(getEnvAsInt("JUDGE_TIMEOUT_MS", 10000)) * time.Millisecond,

		PollInterval:       time.Duration(getEnvAsInt("POLL_INTERVAL_SECONDS", 30)) * time.Second,
		PollBatchSize:      getEnvAsInt("POLL_BATCH_SIZE", 20),
		PollLockKey:        getEnv("POLL_LOCK_KEY", "submission_poll_lock"),
		PollLockTTLSeconds: getEnvAsInt("POLL_LOCK_TTL_SECONDS", 300),
		SubmissionMaxAge:   time.Duration(getEnvAsInt("SUBMISSION_MAX_AGE_HOURS", 24)) * time.Hour,

		DefaultTimeLimitSec: getEnvAsFloat("DEFAULT_TIME_LIMIT_SECONDS", 2),
		LeaderboardCacheTTL: time.Duration(getEnvAsInt("LEADERBOARD_CACHE_TTL_SECONDS", 30)) * time.Second,
	}

	AppConfig.DBConnStr = "host=" + AppConfig.DBHost +
		" port=" + AppConfig.DBPort +
		" user=" + AppConfig.DBUser +
		" password=" + AppConfig.DBPassword +
		" dbname=" + AppConfig.DBName +
		" sslmode=" + AppConfig.DBSslMode
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}
