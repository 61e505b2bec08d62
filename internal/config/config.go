package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type ReferralServiceConfig struct {
	Port         string
	PostgresCfg  PostgresConfig
	RabbitMQCfg  RabbitMQConfig
	RedisCfg     RedisConfig
	MinioCfg     MinioConfig
	GeminiCfg    GeminiAPIConfig
	BusinessCfg  BusinessConfig
	WorkerCfg    WorkerConfig
	StaffUserIDs []string // gateway users that may act on any agent
}

type MinioConfig struct {
	MinioURL       string
	MinioAccessKey string
	MinioSecretKey string
	MinioLocation  string
	MinioSecure    string
}

type PostgresConfig struct {
	DBname   string
	Username string
	Password string
	Host     string
	Port     string
}

type RabbitMQConfig struct {
	Username string
	Password string
	Host     string
	Port     string
}

type RedisConfig struct {
	Host       string
	Port       string
	Password   string
	DB         int
	BalanceTTL int // seconds
}

type GeminiAPIConfig struct {
	// APIKeys holds one or more comma separated keys; each key becomes a failover client.
	APIKeys   string
	FlashName string
	ProName   string
}

// BusinessConfig holds every tunable threshold of matching and the ledger.
// Money values are kopecks, rates are basis points (1/100 of a percent).
type BusinessConfig struct {
	AutoMatchThreshold          int
	ClinicIdentityBonus         int
	MatchBaseConfidence         int
	MatchVisitDateConfidence    int
	MatchVisitWindowDays        int
	MinPayoutKopecks            int64
	BonusUnlockPaidReferrals    int
	TierBaseRateBps             int64
	TierPremiumRateBps          int64
	TierPremiumThresholdKopecks int64
	TaxRateBps                  int64
	SocialContributionsRateBps  int64
	MaxAttachmentPages          int
}

type WorkerConfig struct {
	IngestionWorkers   int
	IngestionQueueSize int
}

func DefaultBusinessConfig() BusinessConfig {
	return BusinessConfig{
		AutoMatchThreshold:          95,
		ClinicIdentityBonus:         5,
		MatchBaseConfidence:         90,
		MatchVisitDateConfidence:    0,
		MatchVisitWindowDays:        120,
		MinPayoutKopecks:            100000,
		BonusUnlockPaidReferrals:    10,
		TierBaseRateBps:             1000,
		TierPremiumRateBps:          1200,
		TierPremiumThresholdKopecks: 50000000,
		TaxRateBps:                  1300,
		SocialContributionsRateBps:  3000,
		MaxAttachmentPages:          30,
	}
}

func New() *ReferralServiceConfig {
	// .env is optional; real deployments pass the environment directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env file: %v", err)
	}

	def := DefaultBusinessConfig()
	return &ReferralServiceConfig{
		Port:         getEnvOrDefault("PORT", "8085"),
		StaffUserIDs: getEnvListOrDefault("STAFF_USER_IDS", nil),
		PostgresCfg: PostgresConfig{
			DBname:   getEnvOrDefault("POSTGRES_DB", "docdoc"),
			Username: getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password: getEnvOrDefault("POSTGRES_PASSWORD", "postgres"),
			Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     getEnvOrDefault("POSTGRES_PORT", "5432"),
		},
		RabbitMQCfg: RabbitMQConfig{
			Username: getEnvOrDefault("RABBITMQ_USER", "admin"),
			Password: getEnvOrDefault("RABBITMQ_PWD", "admin"),
			Host:     getEnvOrDefault("RABBITMQ_HOST", "localhost"),
			Port:     getEnvOrDefault("RABBITMQ_PORT", "5672"),
		},
		RedisCfg: RedisConfig{
			Host:       getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:       getEnvOrDefault("REDIS_PORT", "6379"),
			Password:   getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:         getEnvIntOrDefault("REDIS_DB", 0),
			BalanceTTL: getEnvIntOrDefault("REDIS_BALANCE_TTL_SECONDS", 60),
		},
		MinioCfg: MinioConfig{
			MinioURL:       getEnvOrDefault("MINIO_ENDPOINT", "http://localhost:9407"),
			MinioAccessKey: getEnvOrDefault("MINIO_ACCESS_KEY", "minio"),
			MinioSecretKey: getEnvOrDefault("MINIO_SECRET_KEY", "minio123"),
			MinioLocation:  getEnvOrDefault("MINIO_LOCATION", "us-east-1"),
			MinioSecure:    getEnvOrDefault("MINIO_SECURE", "false"),
		},
		GeminiCfg: GeminiAPIConfig{
			APIKeys:   getEnvOrDefault("GEMINI_KEYS", ""),
			FlashName: getEnvOrDefault("GEMINI_FLASH_MODEL", "gemini-2.5-flash"),
			ProName:   getEnvOrDefault("GEMINI_PRO_MODEL", "gemini-2.5-pro"),
		},
		BusinessCfg: BusinessConfig{
			AutoMatchThreshold:          getEnvIntOrDefault("AUTO_MATCH_THRESHOLD", def.AutoMatchThreshold),
			ClinicIdentityBonus:         getEnvIntOrDefault("CLINIC_IDENTITY_BONUS", def.ClinicIdentityBonus),
			MatchBaseConfidence:         getEnvIntOrDefault("MATCH_BASE_CONFIDENCE", def.MatchBaseConfidence),
			MatchVisitDateConfidence:    getEnvIntOrDefault("MATCH_VISIT_DATE_CONFIDENCE", def.MatchVisitDateConfidence),
			MatchVisitWindowDays:        getEnvIntOrDefault("MATCH_VISIT_WINDOW_DAYS", def.MatchVisitWindowDays),
			MinPayoutKopecks:            getEnvInt64OrDefault("MIN_PAYOUT_KOPECKS", def.MinPayoutKopecks),
			BonusUnlockPaidReferrals:    getEnvIntOrDefault("BONUS_UNLOCK_PAID_REFERRALS", def.BonusUnlockPaidReferrals),
			TierBaseRateBps:             getEnvInt64OrDefault("TIER_BASE_RATE_BPS", def.TierBaseRateBps),
			TierPremiumRateBps:          getEnvInt64OrDefault("TIER_PREMIUM_RATE_BPS", def.TierPremiumRateBps),
			TierPremiumThresholdKopecks: getEnvInt64OrDefault("TIER_PREMIUM_THRESHOLD_KOPECKS", def.TierPremiumThresholdKopecks),
			TaxRateBps:                  getEnvInt64OrDefault("TAX_RATE_BPS", def.TaxRateBps),
			SocialContributionsRateBps:  getEnvInt64OrDefault("SOCIAL_CONTRIBUTIONS_RATE_BPS", def.SocialContributionsRateBps),
			MaxAttachmentPages:          getEnvIntOrDefault("MAX_ATTACHMENT_PAGES", def.MaxAttachmentPages),
		},
		WorkerCfg: WorkerConfig{
			IngestionWorkers:   getEnvIntOrDefault("INGESTION_WORKERS", 4),
			IngestionQueueSize: getEnvIntOrDefault("INGESTION_QUEUE_SIZE", 64),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvListOrDefault splits a comma separated value and drops empty items.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	return int(getEnvInt64OrDefault(key, int64(defaultValue)))
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("invalid value for %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
