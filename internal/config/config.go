package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig
	NATS  NATSConfig

	Credits   CreditsConfig
	Scheduler SchedulerConfig
	Gateways  GatewaysConfig
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type NATSConfig struct {
	Enabled      bool
	URL          string
	LoginSubject string
	QueueGroup   string
}

// CreditsConfig controls the restoration policy and account bootstrap.
type CreditsConfig struct {
	RestorationThreshold int64
	RestorationInterval  time.Duration
	InitialCredits       int64
	ReservationTTL       time.Duration
	PurchaseRatePerMin   int64
}

type SchedulerConfig struct {
	Enabled           bool
	RunInterval       time.Duration
	PendingOrderGrace time.Duration
	BatchSize         int
}

type GatewaysConfig struct {
	DefaultProvider string
	Timeout         time.Duration
	MaxRetries      int
	Cashfree        CashfreeConfig
	Mpesa           MpesaConfig
}

type CashfreeConfig struct {
	ClientID     string
	ClientSecret string
	Environment  string
	APIVersion   string
	ReturnURL    string
}

type MpesaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Environment    string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "creditcore"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "creditcore"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			Enabled:      getenvBool("NATS_ENABLED", false),
			URL:          getenv("NATS_URL", "nats://localhost:4222"),
			LoginSubject: getenv("NATS_LOGIN_SUBJECT", "user.login"),
			QueueGroup:   getenv("NATS_QUEUE_GROUP", "restoration"),
		},
		Credits: CreditsConfig{
			RestorationThreshold: getenvInt64("CREDIT_THRESHOLD", 50),
			RestorationInterval:  getenvDuration("CREDIT_RESTORATION_INTERVAL", 24*time.Hour),
			InitialCredits:       getenvInt64("INITIAL_CREDITS", 0),
			ReservationTTL:       getenvDuration("CREDIT_RESERVATION_TTL", 15*time.Minute),
			PurchaseRatePerMin:   getenvInt64("PURCHASE_RATE_PER_MIN", 10),
		},
		Scheduler: SchedulerConfig{
			Enabled:           getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:       getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			PendingOrderGrace: getenvDuration("SCHEDULER_PENDING_ORDER_GRACE", 10*time.Minute),
			BatchSize:         getenvInt("SCHEDULER_BATCH_SIZE", 50),
		},
		Gateways: GatewaysConfig{
			DefaultProvider: strings.ToLower(getenv("PAYMENT_PROVIDER", "cashfree")),
			Timeout:         getenvDuration("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second),
			MaxRetries:      getenvInt("PAYMENT_GATEWAY_MAX_RETRIES", 2),
			Cashfree: CashfreeConfig{
				ClientID:     strings.TrimSpace(getenv("CASHFREE_APP_ID", "")),
				ClientSecret: strings.TrimSpace(getenv("CASHFREE_SECRET_KEY", "")),
				Environment:  strings.ToLower(getenv("CASHFREE_ENVIRONMENT", "sandbox")),
				APIVersion:   getenv("CASHFREE_API_VERSION", "2023-08-01"),
				ReturnURL:    strings.TrimSpace(getenv("CASHFREE_RETURN_URL", "")),
			},
			Mpesa: MpesaConfig{
				ConsumerKey:    strings.TrimSpace(getenv("MPESA_CONSUMER_KEY", "")),
				ConsumerSecret: strings.TrimSpace(getenv("MPESA_CONSUMER_SECRET", "")),
				ShortCode:      strings.TrimSpace(getenv("MPESA_SHORTCODE", "")),
				Passkey:        strings.TrimSpace(getenv("MPESA_PASSKEY", "")),
				CallbackURL:    strings.TrimSpace(getenv("MPESA_CALLBACK_URL", "")),
				Environment:    strings.ToLower(getenv("MPESA_ENVIRONMENT", "sandbox")),
			},
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
