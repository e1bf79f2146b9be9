package config

import (
	"log"
	"strings"
	"time"
)

const (
	// EventKindCheckRun counts check_run deliveries using completed_at.
	EventKindCheckRun = "check_run"
	// EventKindCheckSuite counts check_suite deliveries using updated_at.
	EventKindCheckSuite = "check_suite"

	defaultReloadURL = "https://raw.githubusercontent.com/regro/cf-action-counter-db/master/data/latest.json"
)

// DefaultSources are the CI providers counted when COUNTER_SOURCES is unset.
var DefaultSources = []string{"azure-pipelines", "travis-ci", "github-actions"}

// Source names a counted event source and the webhook kind it reports through.
type Source struct {
	Name      string
	EventKind string
}

// CounterConfig holds runtime configuration for the counter service.
type CounterConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	Sources            []Source
	LegacySource       string
	RepoCacheSize      int
	RateCacheSize      int
	ReportWindow       int
	DisplayTimezone    string
	ReloadEnabled      bool
	ReloadURL          string
	ReloadTimeout      time.Duration
	AdminToken         string
	AdminTokenHash     string
	DatabaseURL        string
	MigrationsDir      string
	DeliveryLogBuffer  int
	DeliveryLogFlush   time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	WebhookRateLimit   int
	StreamBuffer       int
}

// LoadCounterConfig constructs a CounterConfig from environment variables,
// after merging an optional .env file named by ENV_FILE.
func LoadCounterConfig() CounterConfig {
	if err := LoadEnvFile(GetString("ENV_FILE", ".env")); err != nil {
		log.Printf("ignoring env file: %v", err)
	}
	cfg := CounterConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("COUNTER_ADDR", ":5000"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		RepoCacheSize:      GetInt("REPO_CACHE_SIZE", 128),
		RateCacheSize:      GetInt("RATE_CACHE_SIZE", 96),
		ReportWindow:       GetInt("REPORT_WINDOW", 96),
		DisplayTimezone:    GetString("DISPLAY_TIMEZONE", "America/New_York"),
		ReloadEnabled:      GetBool("RELOAD_ENABLED", true),
		ReloadURL:          GetString("RELOAD_URL", defaultReloadURL),
		ReloadTimeout:      time.Duration(GetInt("RELOAD_TIMEOUT_SECONDS", 30)) * time.Second,
		AdminToken:         GetString("ADMIN_TOKEN", ""),
		AdminTokenHash:     GetString("ADMIN_TOKEN_HASH", ""),
		DatabaseURL:        GetString("DATABASE_URL", ""),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		DeliveryLogBuffer:  GetInt("DELIVERY_LOG_BUFFER", 256),
		DeliveryLogFlush:   time.Duration(GetInt("DELIVERY_LOG_FLUSH_SECONDS", 5)) * time.Second,
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		WebhookRateLimit:   GetInt("WEBHOOK_RATE_LIMIT", 600),
		StreamBuffer:       GetInt("STREAM_BUFFER", 256),
	}
	cfg.Sources = ParseSources(GetList("COUNTER_SOURCES", DefaultSources))
	cfg.LegacySource = strings.TrimSpace(GetString("COUNTER_LEGACY_SOURCE", defaultLegacySource(cfg.Sources)))
	return cfg
}

// ParseSources turns "name[:kind]" items into Sources. Unknown kinds and
// duplicate names are dropped; the kind defaults to check_run.
func ParseSources(items []string) []Source {
	seen := make(map[string]struct{}, len(items))
	out := make([]Source, 0, len(items))
	for _, item := range items {
		name, kind, _ := strings.Cut(strings.TrimSpace(item), ":")
		name = strings.TrimSpace(name)
		kind = strings.TrimSpace(kind)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		switch kind {
		case "":
			kind = EventKindCheckRun
		case EventKindCheckRun, EventKindCheckSuite:
		default:
			continue
		}
		seen[name] = struct{}{}
		out = append(out, Source{Name: name, EventKind: kind})
	}
	return out
}

// defaultLegacySource picks the source a flat reload document belongs to: the
// only source of a single-source deployment, github-actions otherwise.
func defaultLegacySource(sources []Source) string {
	if len(sources) == 1 {
		return sources[0].Name
	}
	return "github-actions"
}

// SourceNames lists the configured source names in order.
func (c CounterConfig) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		names = append(names, s.Name)
	}
	return names
}
