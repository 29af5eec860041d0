package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Site        SiteConfig        `koanf:"site"`
	Namespaces  []NamespaceConfig `koanf:"namespaces"`
	Interwiki   []InterwikiConfig `koanf:"interwiki"`
	Jobs        JobsConfig        `koanf:"jobs"`
	Storage     StorageConfig     `koanf:"storage"`
	Permissions PermissionsConfig `koanf:"permissions"`
	Users       []UserConfig      `koanf:"users"`
	Hooks       []HookConfig      `koanf:"hooks"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// Server is the public base URL, optionally protocol-relative ("//host").
	Server          string `koanf:"server"`
	CanonicalServer string `koanf:"canonical_server"`
	InternalServer  string `koanf:"internal_server"`
	ScriptPath      string `koanf:"script_path"`
	ArticlePath     string `koanf:"article_path"`
	UsePathInfo     bool   `koanf:"use_path_info"`
	ForceHTTPS      bool   `koanf:"force_https"`
	// DeferPostResponse runs post-response work after the reply is flushed.
	DeferPostResponse bool   `koanf:"defer_post_response"`
	RequestTimeout    string `koanf:"request_timeout"`
}

type SiteConfig struct {
	Name                 string          `koanf:"name"`
	MainPage             string          `koanf:"main_page"`
	CapitalLinks         bool            `koanf:"capital_links"`
	ReadOnly             string          `koanf:"read_only"`
	Variants             []VariantConfig `koanf:"variants"`
	DisabledActions      []string        `koanf:"disabled_actions"`
	DisableHardRedirects bool            `koanf:"disable_hard_redirects"`
	CDN                  CDNConfig       `koanf:"cdn"`
	DatacenterStickTTL   int             `koanf:"datacenter_stick_ttl"`
	MaxWriteDuration     string          `koanf:"max_write_duration"`
}

// VariantConfig is one language variant: a code plus literal replacements.
type VariantConfig struct {
	Code         string            `koanf:"code"`
	Replacements map[string]string `koanf:"replacements"`
}

type CDNConfig struct {
	Enabled        bool `koanf:"enabled"`
	MaxAge         int  `koanf:"max_age"`
	MaxAgeLagged   int  `koanf:"max_age_lagged"`
	RedirectMaxAge int  `koanf:"redirect_max_age"`
}

type NamespaceConfig struct {
	ID   int    `koanf:"id"`
	Name string `koanf:"name"`
}

type InterwikiConfig struct {
	Prefix string `koanf:"prefix"`
	URL    string `koanf:"url"`
	Local  bool   `koanf:"local"`
}

type JobsConfig struct {
	RunRate        float64 `koanf:"run_rate"`
	RunAsync       bool    `koanf:"run_async"`
	SecretKey      string  `koanf:"secret_key"`
	ConnectTimeout string  `koanf:"connect_timeout"`
	WriteTimeout   string  `koanf:"write_timeout"`
	MaxAttempts    int     `koanf:"max_attempts"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path     string `koanf:"path"`
	JobsPath string `koanf:"jobs_path"`
}

type PermissionsConfig struct {
	// Rights maps a group ("*", "user", custom) to the rights it grants.
	Rights        map[string][]string `koanf:"rights"`
	ReadWhitelist []string            `koanf:"read_whitelist"`
	// ReadWhitelistRegex entries are matched against the prefixed title text.
	ReadWhitelistRegex []string          `koanf:"read_whitelist_regex"`
	Protected          []ProtectedConfig `koanf:"protected"`
}

// ProtectedConfig restricts a right on a title or a whole namespace to a group.
type ProtectedConfig struct {
	Title     string `koanf:"title"`
	Namespace *int   `koanf:"namespace"`
	Right     string `koanf:"right"`
	Group     string `koanf:"group"`
}

type UserConfig struct {
	Name       string   `koanf:"name"`
	KeyHash    string   `koanf:"key_hash"`
	Groups     []string `koanf:"groups"`
	ForceHTTPS bool     `koanf:"force_https"`
}

// HookConfig binds a webhook to one extension point.
type HookConfig struct {
	Name    string            `koanf:"name"`
	Point   string            `koanf:"point"`
	URL     string            `koanf:"url"`
	Order   int               `koanf:"order"`
	Timeout string            `koanf:"timeout"`
	OnError string            `koanf:"on_error"` // continue (default) or veto
	Retries int               `koanf:"retries"`
	Headers map[string]string `koanf:"headers"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml from the working directory.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads the YAML file at path (a missing file is fine), then
// WIKI_ environment variables, then applies defaults.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("WIKI_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "WIKI_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Jobs.SecretKey = substituteEnvVars(cfg.Jobs.SecretKey)
	for i := range cfg.Users {
		cfg.Users[i].KeyHash = substituteEnvVars(cfg.Users[i].KeyHash)
	}
	for i := range cfg.Hooks {
		for h, v := range cfg.Hooks[i].Headers {
			cfg.Hooks[i].Headers[h] = substituteEnvVars(v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":                8080,
		"server.server":              "http://localhost:8080",
		"server.script_path":         "/index.php",
		"server.article_path":        "/wiki/$1",
		"server.use_path_info":       true,
		"server.defer_post_response": true,
		"server.request_timeout":     "30s",
		"site.name":                  "Wiki",
		"site.main_page":             "Main Page",
		"site.capital_links":         true,
		"site.cdn.max_age":           18000,
		"site.cdn.max_age_lagged":    30,
		"site.cdn.redirect_max_age":  1200,
		"site.datacenter_stick_ttl":  10,
		"site.max_write_duration":    "3s",
		"jobs.run_rate":              1.0,
		"jobs.run_async":             false,
		"jobs.connect_timeout":       "100ms",
		"jobs.write_timeout":         "1s",
		"jobs.max_attempts":          3,
		"storage.type":               "memory",
		"storage.sqlite.path":        "wiki.db",
		"storage.sqlite.jobs_path":   "wiki-jobs.db",
	}
	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}
	if !k.Exists("permissions.rights") {
		k.Set("permissions.rights", map[string]any{
			"*":    []any{"read", "edit", "createpage"},
			"user": []any{"read", "edit", "createpage", "purge"},
		})
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if !strings.Contains(c.Server.ArticlePath, "$1") {
		return fmt.Errorf("server.article_path %q must contain $1", c.Server.ArticlePath)
	}
	if c.Jobs.RunRate < 0 {
		return fmt.Errorf("jobs.run_rate must not be negative")
	}
	if c.Jobs.RunAsync && c.Jobs.SecretKey == "" {
		return fmt.Errorf("jobs.secret_key is required when jobs.run_async is set")
	}
	for _, d := range []struct{ name, v string }{
		{"server.request_timeout", c.Server.RequestTimeout},
		{"site.max_write_duration", c.Site.MaxWriteDuration},
		{"jobs.connect_timeout", c.Jobs.ConnectTimeout},
		{"jobs.write_timeout", c.Jobs.WriteTimeout},
	} {
		if d.v == "" {
			continue
		}
		if _, err := time.ParseDuration(d.v); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	switch c.Storage.Type {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("storage.type %q must be memory or sqlite", c.Storage.Type)
	}
	return nil
}

// Duration parses a validated duration string, returning def when empty.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
