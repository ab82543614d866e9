// Package config loads the console configuration. Precedence, lowest
// first: built-in defaults, the YAML file named by CG_CONFIG, CG_*
// environment variables, a file given with --config, explicit flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ManuPunk16/CG-Front-sub000/internal/auth"
	"github.com/ManuPunk16/CG-Front-sub000/internal/inactivity"
	"github.com/ManuPunk16/CG-Front-sub000/internal/route"
	"github.com/ManuPunk16/CG-Front-sub000/internal/tokencache"
)

// Config is the full console configuration.
type Config struct {
	APIBaseURL  string        `yaml:"apiBaseUrl"`
	ListenAddr  string        `yaml:"listenAddr"`
	HTTPTimeout time.Duration `yaml:"httpTimeout"`

	Cache CacheConfig `yaml:"cache"`

	Inactivity InactivityConfig `yaml:"inactivity"`

	LoginPath   string `yaml:"loginPath"`
	DefaultPath string `yaml:"defaultPath"`

	AuthHeader string `yaml:"authHeader"`
	AuthScheme string `yaml:"authScheme"`

	// Hierarchy replaces the built-in direction map when non-empty.
	Hierarchy map[string][]string `yaml:"hierarchy"`
	// RouteAreas binds console routes to the area they expose.
	RouteAreas map[string]string `yaml:"routeAreas"`

	// File is the YAML file the configuration was read from, if any.
	File string `yaml:"-"`
}

// CacheConfig selects the token cache backend.
type CacheConfig struct {
	Backend       string        `yaml:"backend"`
	FilePath      string        `yaml:"filePath"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDb"`
	RedisTTL      time.Duration `yaml:"redisTtl"`
	PostgresDSN   string        `yaml:"postgresDsn"`
	Owner         string        `yaml:"owner"`
	Secret        string        `yaml:"secret"`
}

// InactivityConfig sets the inactivity countdown.
type InactivityConfig struct {
	Idle     time.Duration `yaml:"idle"`
	Warning  time.Duration `yaml:"warning"`
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the built-in configuration.
func Default() Config {
	ic := inactivity.DefaultConfig()
	return Config{
		APIBaseURL:  "http://localhost:3000/api",
		ListenAddr:  ":8080",
		HTTPTimeout: 20 * time.Second,
		Cache:       CacheConfig{Backend: tokencache.BackendMemory, Owner: "default"},
		Inactivity:  InactivityConfig{Idle: ic.Idle, Warning: ic.Warning, Debounce: ic.Debounce},
		LoginPath:   route.DefaultLoginPath,
		DefaultPath: route.DefaultHomePath,
		AuthHeader:  "Authorization",
		AuthScheme:  "Bearer",
	}
}

// Load builds the configuration for a command: defaults, then the YAML
// file named by CG_CONFIG, then CG_* variables. Flags bound with
// BindFlags are applied afterwards by the caller via ApplyFlags.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CG_CONFIG")); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.File = path
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	getenv := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("CG_API_URL", &c.APIBaseURL)
	str("CG_LISTEN_ADDR", &c.ListenAddr)
	dur("CG_HTTP_TIMEOUT", &c.HTTPTimeout)
	str("CG_CACHE_BACKEND", &c.Cache.Backend)
	str("CG_CACHE_FILE", &c.Cache.FilePath)
	str("CG_REDIS_ADDR", &c.Cache.RedisAddr)
	str("CG_REDIS_PASSWORD", &c.Cache.RedisPassword)
	if v := getenv("CG_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: CG_REDIS_DB: %w", err))
		} else {
			c.Cache.RedisDB = n
		}
	}
	dur("CG_REDIS_TTL", &c.Cache.RedisTTL)
	str("CG_PG_DSN", &c.Cache.PostgresDSN)
	str("CG_CACHE_OWNER", &c.Cache.Owner)
	str("CG_CACHE_SECRET", &c.Cache.Secret)
	dur("CG_IDLE_TIMEOUT", &c.Inactivity.Idle)
	dur("CG_IDLE_WARNING", &c.Inactivity.Warning)
	dur("CG_ACTIVITY_DEBOUNCE", &c.Inactivity.Debounce)
	str("CG_LOGIN_PATH", &c.LoginPath)
	str("CG_DEFAULT_PATH", &c.DefaultPath)
	str("CG_AUTH_HEADER", &c.AuthHeader)
	// An explicitly empty scheme sends the bare token.
	if v, ok := lookup("CG_AUTH_SCHEME"); ok {
		c.AuthScheme = strings.TrimSpace(v)
	}
	return errors.Join(errs...)
}

// BindFlags registers flags overriding c on fs. The YAML file named by
// --config is applied by ApplyFlags before the other flags.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.String("config", c.File, "YAML configuration file (env CG_CONFIG)")
	fs.StringVar(&c.APIBaseURL, "api-url", c.APIBaseURL, "Control de Gestión API base URL")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "console listen address")
	fs.DurationVar(&c.HTTPTimeout, "http-timeout", c.HTTPTimeout, "timeout for API requests")
	fs.StringVar(&c.Cache.Backend, "cache", c.Cache.Backend, "token cache backend: memory, file, redis or postgres")
	fs.StringVar(&c.Cache.FilePath, "cache-file", c.Cache.FilePath, "token cache file for the file backend")
	fs.StringVar(&c.Cache.RedisAddr, "redis-addr", c.Cache.RedisAddr, "redis address for the redis backend")
	fs.StringVar(&c.Cache.PostgresDSN, "pg-dsn", c.Cache.PostgresDSN, "postgres DSN for the postgres backend")
	fs.StringVar(&c.Cache.Secret, "cache-secret", c.Cache.Secret, "passphrase sealing cached tokens")
	fs.DurationVar(&c.Inactivity.Idle, "idle-timeout", c.Inactivity.Idle, "silent inactivity period before the warning")
	fs.DurationVar(&c.Inactivity.Warning, "idle-warning", c.Inactivity.Warning, "warning period before inactivity logout")
	fs.StringVar(&c.LoginPath, "login-path", c.LoginPath, "login route")
	fs.StringVar(&c.DefaultPath, "default-path", c.DefaultPath, "route for denied area access")
}

// ApplyFlags loads the --config file, if given, and then re-applies the
// flags the user set explicitly so they win over the file.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	path, _ := fs.GetString("config")
	if path == "" || path == c.File {
		return nil
	}
	explicit := map[string]string{}
	fs.Visit(func(f *pflag.Flag) {
		if f.Name != "config" {
			explicit[f.Name] = f.Value.String()
		}
	})
	if err := c.LoadFile(path); err != nil {
		return err
	}
	var errs []error
	for name, v := range explicit {
		if err := fs.Set(name, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.APIBaseURL) == "" {
		errs = append(errs, errors.New("config: api base url is required"))
	}
	if c.Inactivity.Idle <= 0 || c.Inactivity.Warning <= 0 {
		errs = append(errs, errors.New("config: inactivity durations must be positive"))
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		errs = append(errs, fmt.Errorf("config: login path %q must start with /", c.LoginPath))
	}
	return errors.Join(errs...)
}

// HierarchyOrDefault returns the configured hierarchy, or the built-in
// one when none is configured.
func (c Config) HierarchyOrDefault() auth.Hierarchy {
	if len(c.Hierarchy) == 0 {
		return auth.DefaultHierarchy()
	}
	return auth.NewHierarchyFromStrings(c.Hierarchy)
}

// RouteAreaMap converts RouteAreas for guard.FromRouteMetadata.
func (c Config) RouteAreaMap() map[string]auth.Area {
	out := make(map[string]auth.Area, len(c.RouteAreas))
	for path, area := range c.RouteAreas {
		out[path] = auth.Area(area)
	}
	return out
}

// CacheOptions converts the cache section for tokencache.Open.
func (c Config) CacheOptions() tokencache.Options {
	return tokencache.Options{
		Backend:       c.Cache.Backend,
		FilePath:      c.Cache.FilePath,
		RedisAddr:     c.Cache.RedisAddr,
		RedisPassword: c.Cache.RedisPassword,
		RedisDB:       c.Cache.RedisDB,
		RedisTTL:      c.Cache.RedisTTL,
		PostgresDSN:   c.Cache.PostgresDSN,
		Owner:         c.Cache.Owner,
		Secret:        c.Cache.Secret,
	}
}

// MonitorConfig converts the inactivity section.
func (c Config) MonitorConfig() inactivity.Config {
	return inactivity.Config{
		Idle:     c.Inactivity.Idle,
		Warning:  c.Inactivity.Warning,
		Debounce: c.Inactivity.Debounce,
	}
}
