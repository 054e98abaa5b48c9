package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/natssync/mstress/internal/logging"
)

const (
	DirectoryMongo  = "mongo"
	DirectorySQLite = "sqlite"
	DirectoryStatic = "static"
)

type Config struct {
	Port        string
	BindAddress string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	NATSURL              string
	NATSName             string
	NATSConnectRetryWait time.Duration
	NATSReconnectWait    time.Duration
	NATSPendingMsgs      int
	NATSPendingBytes     int

	EchoTimeout         time.Duration
	CollectTimeout      time.Duration
	MPSDuration         time.Duration
	PublishConcurrency  int
	MaxConcurrentProbes int
	MaxTestCount        int
	MaxBatchClients     int

	DirectoryBackend  string
	MongoURL          string
	MongoDatabase     string
	MongoCollection   string
	DataDir           string
	SQLitePath        string
	DirectoryClients  []string
	DirectoryFile     string
	DirectoryCacheTTL time.Duration

	EcholetClients []string

	RateLimitPerIP    int
	GlobalRateLimit   int
	TrustProxyHeaders bool
	TrustedProxyCIDRs []string
	AllowedOrigins    []string

	WebSocketPingInterval time.Duration
	MetricsEnabled        bool

	PprofEnabled      bool
	PprofAddress      string
	PerfStatsInterval time.Duration

	LogLevel logging.Level
}

func DefaultConfig() *Config {
	return &Config{
		Port:                  "8080",
		BindAddress:           "0.0.0.0",
		ReadHeaderTimeout:     15 * time.Second, // protects against slowloris
		IdleTimeout:           60 * time.Second,
		NATSURL:               "nats://nats:4222",
		NATSName:              "mstress-server",
		NATSConnectRetryWait:  2 * time.Second,
		NATSReconnectWait:     2 * time.Second,
		NATSPendingMsgs:       1 << 20,
		NATSPendingBytes:      256 << 20,
		EchoTimeout:           5 * time.Second,
		CollectTimeout:        5 * time.Second,
		MPSDuration:           10 * time.Second,
		PublishConcurrency:    64,
		MaxConcurrentProbes:   0,
		MaxTestCount:          100000,
		MaxBatchClients:       1000,
		DirectoryBackend:      DirectoryMongo,
		MongoURL:              "mongodb://mongo",
		MongoDatabase:         "natssync",
		MongoCollection:       "locations",
		DataDir:               "./data",
		DirectoryCacheTTL:     0,
		RateLimitPerIP:        100,
		GlobalRateLimit:       1000,
		TrustProxyHeaders:     false,
		AllowedOrigins:        []string{"*"},
		WebSocketPingInterval: 30 * time.Second,
		MetricsEnabled:        true,
		PprofEnabled:          false,
		PprofAddress:          "127.0.0.1:6060",
		PerfStatsInterval:     0,
		LogLevel:              logging.LevelInfo,
	}
}

func (c *Config) LoadFromEnv() error {
	if port := os.Getenv("WEB_PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid WEB_PORT %q: must be a number", port)
		}
		c.Port = port
	}
	if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
		c.BindAddress = addr
	}

	if url := os.Getenv("NATS_URL"); url != "" {
		c.NATSURL = url
	}
	if name := os.Getenv("NATS_NAME"); name != "" {
		c.NATSName = name
	}
	if err := positiveDuration("NATS_CONNECT_RETRY_WAIT", &c.NATSConnectRetryWait); err != nil {
		return err
	}
	if err := positiveDuration("NATS_RECONNECT_WAIT", &c.NATSReconnectWait); err != nil {
		return err
	}
	if err := positiveInt("NATS_PENDING_MSGS", &c.NATSPendingMsgs); err != nil {
		return err
	}
	if raw := os.Getenv("NATS_PENDING_BYTES"); raw != "" {
		n, err := humanize.ParseBytes(raw)
		if err != nil || n == 0 || n > 1<<40 {
			return fmt.Errorf("invalid NATS_PENDING_BYTES %q: must be a positive size (e.g. 256MiB)", raw)
		}
		c.NATSPendingBytes = int(n)
	}

	if err := positiveDuration("ECHO_TIMEOUT", &c.EchoTimeout); err != nil {
		return err
	}
	if err := positiveDuration("COLLECT_TIMEOUT", &c.CollectTimeout); err != nil {
		return err
	}
	if err := positiveDuration("MPS_DURATION", &c.MPSDuration); err != nil {
		return err
	}
	if err := positiveInt("PUBLISH_CONCURRENCY", &c.PublishConcurrency); err != nil {
		return err
	}
	if max := os.Getenv("MAX_CONCURRENT_PROBES"); max != "" {
		m, err := strconv.Atoi(max)
		if err != nil || m < 0 {
			return fmt.Errorf("invalid MAX_CONCURRENT_PROBES %q: must be 0 (unlimited) or a positive integer", max)
		}
		c.MaxConcurrentProbes = m
	}
	if err := positiveInt("MAX_TEST_COUNT", &c.MaxTestCount); err != nil {
		return err
	}
	if err := positiveInt("MAX_BATCH_CLIENTS", &c.MaxBatchClients); err != nil {
		return err
	}

	if backend := os.Getenv("DIRECTORY_BACKEND"); backend != "" {
		c.DirectoryBackend = strings.ToLower(strings.TrimSpace(backend))
	}
	if url := os.Getenv("MONGO_URL"); url != "" {
		c.MongoURL = url
	}
	if db := os.Getenv("MONGO_DATABASE"); db != "" {
		c.MongoDatabase = db
	}
	if coll := os.Getenv("MONGO_COLLECTION"); coll != "" {
		c.MongoCollection = coll
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.DataDir = dataDir
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" {
		c.SQLitePath = path
	}
	if clients := os.Getenv("DIRECTORY_CLIENTS"); clients != "" {
		c.DirectoryClients = splitList(clients)
	}
	if file := os.Getenv("DIRECTORY_FILE"); file != "" {
		c.DirectoryFile = file
	}
	if ttl := os.Getenv("DIRECTORY_CACHE_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid DIRECTORY_CACHE_TTL %q: must be a duration (0 disables)", ttl)
		}
		c.DirectoryCacheTTL = d
	}
	if clients := os.Getenv("ECHOLET_CLIENTS"); clients != "" {
		c.EcholetClients = splitList(clients)
	}

	if err := positiveInt("RATE_LIMIT_PER_IP", &c.RateLimitPerIP); err != nil {
		return err
	}
	if err := positiveInt("GLOBAL_RATE_LIMIT", &c.GlobalRateLimit); err != nil {
		return err
	}
	if trust := os.Getenv("TRUST_PROXY_HEADERS"); trust == "true" || trust == "1" {
		c.TrustProxyHeaders = true
	}
	if cidrs := os.Getenv("TRUSTED_PROXY_CIDRS"); cidrs != "" {
		c.TrustedProxyCIDRs = splitList(cidrs)
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}

	if err := positiveDuration("WEBSOCKET_PING_INTERVAL", &c.WebSocketPingInterval); err != nil {
		return err
	}
	if enabled := os.Getenv("METRICS_ENABLED"); enabled == "false" || enabled == "0" {
		c.MetricsEnabled = false
	}

	if enabled := os.Getenv("PPROF_ENABLED"); enabled == "true" || enabled == "1" {
		c.PprofEnabled = true
	}
	if addr := os.Getenv("PPROF_ADDR"); addr != "" {
		c.PprofAddress = addr
	}
	if err := positiveDuration("PERF_STATS_INTERVAL", &c.PerfStatsInterval); err != nil {
		return err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		l, ok := logging.ParseLevel(level)
		if !ok {
			return fmt.Errorf("invalid LOG_LEVEL %q: must be debug, info, warn or error", level)
		}
		c.LogLevel = l
	}

	return nil
}

func positiveInt(key string, dst *int) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid %s %q: must be a positive integer", key, raw)
	}
	*dst = n
	return nil
}

func positiveDuration(key string, dst *time.Duration) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid %s %q: must be a positive duration (e.g. 10s)", key, raw)
	}
	*dst = d
	return nil
}

func splitList(raw string) []string {
	entries := strings.Split(raw, ",")
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if value := strings.TrimSpace(entry); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port %q: must be 1-65535", c.Port)
	}
	if c.NATSURL == "" {
		return fmt.Errorf("nats url cannot be empty")
	}
	if c.EchoTimeout <= 0 || c.CollectTimeout <= 0 || c.MPSDuration <= 0 {
		return fmt.Errorf("probe timeouts must be > 0")
	}
	if c.PublishConcurrency <= 0 {
		return fmt.Errorf("publish concurrency must be > 0")
	}
	if c.MaxConcurrentProbes < 0 {
		return fmt.Errorf("max concurrent probes must be >= 0")
	}
	if c.MaxTestCount <= 0 || c.MaxBatchClients <= 0 {
		return fmt.Errorf("test limits must be > 0")
	}
	switch c.DirectoryBackend {
	case DirectoryMongo:
		if c.MongoURL == "" {
			return fmt.Errorf("mongo url cannot be empty for the mongo directory")
		}
	case DirectorySQLite:
		if c.DataDir == "" && c.SQLitePath == "" {
			return fmt.Errorf("data directory cannot be empty for the sqlite directory")
		}
	case DirectoryStatic:
		if len(c.DirectoryClients) == 0 && c.DirectoryFile == "" {
			return fmt.Errorf("static directory needs DIRECTORY_CLIENTS or DIRECTORY_FILE")
		}
	default:
		return fmt.Errorf("unknown directory backend %q: must be mongo, sqlite or static", c.DirectoryBackend)
	}
	if c.PprofEnabled && c.PprofAddress == "" {
		return fmt.Errorf("pprof address cannot be empty when enabled")
	}
	if c.RateLimitPerIP <= 0 {
		return fmt.Errorf("rate limit per IP must be > 0")
	}
	if c.GlobalRateLimit <= 0 {
		return fmt.Errorf("global rate limit must be > 0")
	}
	if c.GlobalRateLimit < c.RateLimitPerIP {
		return fmt.Errorf("global rate limit must be >= rate limit per IP")
	}
	if c.TrustProxyHeaders && len(c.TrustedProxyCIDRs) > 0 {
		for _, entry := range c.TrustedProxyCIDRs {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return fmt.Errorf("invalid trusted proxy CIDR: %s", entry)
			}
		}
	}
	return nil
}

// DirectoryDBPath is SQLITE_PATH, or directory.db inside DATA_DIR.
func (c *Config) DirectoryDBPath() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, "directory.db")
}

func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.BindAddress, c.Port)
}
