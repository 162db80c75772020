package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DispatchConfig captures all tunable parameters for the dispatch process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type DispatchConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	ProximityURL string
	TripsURL     string

	TokenSecret string

	SearchRadiusM float64
	LockTTL       time.Duration
	AcceptWindow  time.Duration
	AcceptPoll    time.Duration
	BusyTTL       time.Duration
	PairingTTL    time.Duration

	LogLevel string
}

func defaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		KafkaTopic:      "notifications",
		SearchRadiusM:   2000,
		LockTTL:         20 * time.Second,
		AcceptWindow:    15 * time.Second,
		AcceptPoll:      500 * time.Millisecond,
		BusyTTL:         120 * time.Second,
		PairingTTL:      5 * time.Minute,
		LogLevel:        "info",
	}
}

func LoadDispatchConfig() (DispatchConfig, error) {
	cfg := defaultDispatchConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setStringFromEnv(&cfg.ProximityURL, "LOCATION_SERVICE_URL")
	setStringFromEnv(&cfg.TripsURL, "TRIP_MANAGEMENT_SERVICE_URL")
	cfg.TokenSecret = os.Getenv("AUTH_UNIVERSAL_SECRET")

	setFloatFromEnv(&cfg.SearchRadiusM, "DISPATCH_SEARCH_RADIUS_M", &errs)
	setDurationFromEnv(&cfg.LockTTL, "DISPATCH_LOCK_TTL", &errs)
	setDurationFromEnv(&cfg.AcceptWindow, "DISPATCH_ACCEPT_WINDOW", &errs)
	setDurationFromEnv(&cfg.AcceptPoll, "DISPATCH_ACCEPT_POLL", &errs)
	setDurationFromEnv(&cfg.BusyTTL, "DISPATCH_BUSY_TTL", &errs)
	setDurationFromEnv(&cfg.PairingTTL, "DISPATCH_PAIRING_TTL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("REDIS_ADDR is required"))
	}
	if cfg.SearchRadiusM <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_SEARCH_RADIUS_M must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// LocationConfig configures the location service process.
type LocationConfig struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	ProfileServiceURL string
	TokenSecret       string
	TrackingSecret    string

	FreshnessWindow time.Duration
	TrackInterval   time.Duration

	LogLevel string
}

func LoadLocationConfig() (LocationConfig, error) {
	cfg := LocationConfig{
		HTTPAddr:        ":8081",
		ShutdownTimeout: 15 * time.Second,
		FreshnessWindow: 30 * time.Second,
		TrackInterval:   5 * time.Second,
		LogLevel:        "info",
	}
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	setStringFromEnv(&cfg.ProfileServiceURL, "AUTH_SERVICE_URL")
	cfg.TokenSecret = os.Getenv("AUTH_UNIVERSAL_SECRET")
	cfg.TrackingSecret = os.Getenv("REALTIME_TRACKING_SECRET")

	setDurationFromEnv(&cfg.FreshnessWindow, "LOCATION_FRESHNESS_WINDOW", &errs)
	setDurationFromEnv(&cfg.TrackInterval, "LOCATION_TRACK_INTERVAL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("REDIS_ADDR is required"))
	}
	if cfg.FreshnessWindow <= 0 {
		errs = append(errs, fmt.Errorf("LOCATION_FRESHNESS_WINDOW must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// RelayConfig configures the notification relay process.
type RelayConfig struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	TokenSecret string

	FetchWait  time.Duration
	ErrorDelay time.Duration

	LogLevel string
}

func LoadRelayConfig() (RelayConfig, error) {
	cfg := RelayConfig{
		HTTPAddr:        ":8082",
		ShutdownTimeout: 15 * time.Second,
		KafkaTopic:      "notifications",
		KafkaGroup:      "notification-relay",
		FetchWait:       10 * time.Second,
		ErrorDelay:      5 * time.Second,
		LogLevel:        "info",
	}
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.TokenSecret = os.Getenv("AUTH_UNIVERSAL_SECRET")

	setDurationFromEnv(&cfg.FetchWait, "RELAY_FETCH_WAIT", &errs)
	setDurationFromEnv(&cfg.ErrorDelay, "RELAY_ERROR_DELAY", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
