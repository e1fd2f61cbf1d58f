package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const ServiceVersion = "0.1.0"

const (
	LedgerServiceName  = "stock-ledger"
	GatewayServiceName = "inventory-gateway"
)

// Ledger storage backends.
const (
	StoreMemory   = "memory"
	StoreMySQL    = "mysql"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

const (
	LogsPath      = "/otlp/v1/logs"
	TracesPath    = "/otlp/v1/traces"
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

const (
	defaultLedgerAddr      = ":8081"
	defaultGatewayAddr     = ":8080"
	defaultLedgerURL       = "http://localhost:8081"
	defaultLedgerTimeout   = 3 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultEventsTopic     = "inventory.stock.adjusted"
	defaultPublishTimeout  = 2 * time.Second
	defaultNATSURL         = "nats://localhost:4222"
	defaultKafkaBroker     = "localhost:9092"
)

// Observability is shared by both binaries. Export is off while
// OtelEndpoint is empty.
type Observability struct {
	ServiceName    string
	OtelEndpoint   string
	OtelAuthHeader string
	Debug          bool
}

func (o Observability) ExportEnabled() bool {
	return o.OtelEndpoint != ""
}

type Ledger struct {
	Addr            string
	Store           string
	MySQLDSN        string
	PostgresDSN     string
	RedisAddr       string
	EventsBroker    string
	NATSURL         string
	KafkaBroker     string
	EventsTopic     string
	PublishTimeout  time.Duration
	ShutdownTimeout time.Duration
	Observability   Observability
}

type Gateway struct {
	Addr            string
	LedgerURL       string
	LedgerTimeout   time.Duration
	ShutdownTimeout time.Duration
	Observability   Observability
}

// LoadLedgerConfig reads the ledger configuration from the environment.
func LoadLedgerConfig() (*Ledger, error) {
	shutdown, err := durationEnv("SHUTDOWN_TIMEOUT", defaultShutdownTimeout)
	if err != nil {
		return nil, err
	}
	publish, err := durationEnv("EVENTS_PUBLISH_TIMEOUT", defaultPublishTimeout)
	if err != nil {
		return nil, err
	}
	if publish <= 0 {
		return nil, fmt.Errorf("EVENTS_PUBLISH_TIMEOUT must be positive, got %s", publish)
	}

	cfg := &Ledger{
		Addr:            stringEnv("LEDGER_ADDR", defaultLedgerAddr),
		Store:           strings.ToLower(stringEnv("LEDGER_STORE", StoreMemory)),
		MySQLDSN:        os.Getenv("MYSQL_DSN"),
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		EventsBroker:    strings.ToLower(stringEnv("EVENTS_BROKER", "none")),
		NATSURL:         stringEnv("NATS_URL", defaultNATSURL),
		KafkaBroker:     stringEnv("KAFKA_BROKER", defaultKafkaBroker),
		EventsTopic:     stringEnv("EVENTS_TOPIC", defaultEventsTopic),
		PublishTimeout:  publish,
		ShutdownTimeout: shutdown,
		Observability:   loadObservability(LedgerServiceName),
	}

	switch cfg.Store {
	case StoreMemory:
	case StoreMySQL:
		if cfg.MySQLDSN == "" {
			return nil, fmt.Errorf("MYSQL_DSN environment variable is required for the mysql store")
		}
	case StorePostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN environment variable is required for the postgres store")
		}
	case StoreRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR environment variable is required for the redis store")
		}
	default:
		return nil, fmt.Errorf("unknown LEDGER_STORE %q", cfg.Store)
	}

	switch cfg.EventsBroker {
	case "none", "nats", "kafka":
	default:
		return nil, fmt.Errorf("unknown EVENTS_BROKER %q", cfg.EventsBroker)
	}

	return cfg, nil
}

// LoadGatewayConfig reads the gateway configuration from the environment.
func LoadGatewayConfig() (*Gateway, error) {
	timeout, err := durationEnv("LEDGER_TIMEOUT", defaultLedgerTimeout)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("LEDGER_TIMEOUT must be positive, got %s", timeout)
	}
	shutdown, err := durationEnv("SHUTDOWN_TIMEOUT", defaultShutdownTimeout)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		Addr:            stringEnv("GATEWAY_ADDR", defaultGatewayAddr),
		LedgerURL:       strings.TrimRight(stringEnv("LEDGER_URL", defaultLedgerURL), "/"),
		LedgerTimeout:   timeout,
		ShutdownTimeout: shutdown,
		Observability:   loadObservability(GatewayServiceName),
	}, nil
}

func loadObservability(service string) Observability {
	return Observability{
		ServiceName:    service,
		OtelEndpoint:   os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader: os.Getenv("OTEL_AUTH_HEADER"),
		Debug:          os.Getenv("LOG_LEVEL") == "debug",
	}
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
