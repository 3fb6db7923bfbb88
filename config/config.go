// Package config reads the service settings from the environment. A .env file
// in the working directory is loaded first when present.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

var ErrMissing = eris.New("required environment variable not set")

type Config struct {
	Database DatabaseConfig
	Match    MatchConfig
	Server   ServerConfig
	Log      LogConfig
	R2       R2Config
}

type DatabaseConfig struct {
	URL string
}

type MatchConfig struct {
	StartDelay       time.Duration
	Lifetime         time.Duration
	TickInterval     time.Duration
	RecoveryInterval time.Duration
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string
	GatewayToken   string
}

type LogConfig struct {
	Level  zerolog.Level
	Format string // json or console
}

// R2Config is optional. Uploads are disabled unless Enabled reports true.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != "" && c.Bucket != ""
}

// Load reads the configuration. Missing or malformed required values are
// reported together in one error.
func Load() (*Config, error) {
	// a missing .env is fine, the environment may be set directly
	_ = godotenv.Load()

	r := reader{}
	cfg := &Config{
		Database: DatabaseConfig{
			URL: r.required("DATABASE_URL"),
		},
		Match: MatchConfig{
			StartDelay:       r.millis("MATCH_START_DELAY", nil),
			Lifetime:         r.millis("MATCH_LIFETIME_MILLIS", nil),
			TickInterval:     r.millis("MATCHMAKING_TICK_MILLIS", ptr(8*time.Second)),
			RecoveryInterval: r.duration("MATCH_RECOVERY_INTERVAL", time.Minute),
		},
		Server: ServerConfig{
			Port:           withDefault(os.Getenv("PORT"), "5200"),
			AllowedOrigins: splitList(withDefault(os.Getenv("ALLOWED_ORIGINS"), "http://localhost:3000")),
			GatewayToken:   os.Getenv("GAME_SERVICE_TOKEN"),
		},
		Log: LogConfig{
			Level:  r.level("LOG_LEVEL"),
			Format: strings.ToLower(withDefault(os.Getenv("LOG_FORMAT"), "json")),
		},
		R2: LoadR2(),
	}
	if r.err != nil {
		return nil, r.err
	}
	if cfg.Match.Lifetime <= 0 {
		return nil, eris.New("MATCH_LIFETIME_MILLIS must be positive")
	}
	return cfg, nil
}

// LoadR2 reads only the object storage settings. The simulation CLI uses it
// without requiring the service variables.
func LoadR2() R2Config {
	_ = godotenv.Load()
	return R2Config{
		AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
		AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
		Bucket:          os.Getenv("R2_BUCKET_NAME"),
		CDNBaseURL:      os.Getenv("CDN_BASE_URL"),
	}
}

// Validate checks the settings only the HTTP server needs.
func (c ServerConfig) Validate() error {
	if c.GatewayToken == "" {
		return eris.Wrap(ErrMissing, "GAME_SERVICE_TOKEN")
	}
	return nil
}

// reader collects the first error so Load can report it after reading
// everything.
type reader struct {
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) required(name string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		r.fail(eris.Wrap(ErrMissing, name))
	}
	return v
}

// millis parses an integer count of milliseconds. A nil def makes the
// variable required.
func (r *reader) millis(name string, def *time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		if def == nil {
			r.fail(eris.Wrap(ErrMissing, name))
			return 0
		}
		return *def
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms < 0 {
		r.fail(eris.Errorf("%s: %q is not a non-negative number of milliseconds", name, raw))
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func (r *reader) duration(name string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		r.fail(eris.Errorf("%s: %q is not a positive duration", name, raw))
		return 0
	}
	return d
}

func (r *reader) level(name string) zerolog.Level {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		r.fail(eris.Wrapf(err, "%s", name))
		return zerolog.InfoLevel
	}
	return lvl
}

func withDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }
