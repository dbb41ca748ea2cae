// Package conf loads and validates the worker configuration.
package conf

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Settings is the root configuration for the worker.
type Settings struct {
	Server        ServerSettings        `mapstructure:"server"`
	Upstream      UpstreamSettings      `mapstructure:"upstream"`
	Cache         CacheSettings         `mapstructure:"cache"`
	Notifications NotificationsSettings `mapstructure:"notifications"`
	SchoolLife    SchoolLifeSettings    `mapstructure:"schoollife"`
}

// ServerSettings configures the gateway's listen address.
type ServerSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the host:port bind address.
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// UpstreamSettings identifies the status-board backend the worker fronts.
type UpstreamSettings struct {
	// Origin is the backend base URL, e.g. "http://127.0.0.1:5000".
	Origin  string   `mapstructure:"origin"`
	Timeout Duration `mapstructure:"timeout"`
	// BypassPrefixes are same-origin path prefixes that are always tried
	// against the network first and never served stale while online.
	BypassPrefixes []string `mapstructure:"bypass_prefixes"`
	// SessionCheckPath is the exact session-probe path treated like the
	// bypass prefixes.
	SessionCheckPath string `mapstructure:"session_check_path"`
}

// CacheSettings configures the versioned cache stores.
type CacheSettings struct {
	// Version is embedded into the static and runtime store names; bumping it
	// replaces both stores wholesale on the next activation.
	Version int `mapstructure:"version"`
	// Precache is the closed manifest of same-origin paths fetched at install.
	Precache []string `mapstructure:"precache"`
	// OfflineShell is the navigation fallback page served as last resort.
	OfflineShell string `mapstructure:"offline_shell"`
	// HotTTL bounds how long entries live in the in-memory read-through layer.
	HotTTL   Duration         `mapstructure:"hot_ttl"`
	Database DatabaseSettings `mapstructure:"database"`
}

// DatabaseSettings selects the persistence backend for the cache stores.
type DatabaseSettings struct {
	// Driver is "sqlite" or "mysql".
	Driver string `mapstructure:"driver"`
	// Path is the sqlite database file.
	Path string `mapstructure:"path"`
	// DSN is the mysql connection string.
	DSN string `mapstructure:"dsn"`
}

// NotificationsSettings configures the timetable reminder.
type NotificationsSettings struct {
	Enabled bool `mapstructure:"enabled"`
	// Timezone is the IANA zone all scheduling decisions are made in.
	Timezone      string   `mapstructure:"timezone"`
	CheckInterval Duration `mapstructure:"check_interval"`
	Title         string   `mapstructure:"title"`
	Tag           string   `mapstructure:"tag"`
	// TargetPath is carried on the notification payload for click-through.
	TargetPath string `mapstructure:"target_path"`
	Icon       string `mapstructure:"icon"`
	Badge      string `mapstructure:"badge"`
	// ShoutrrrURLs are optional push delivery targets.
	ShoutrrrURLs []string     `mapstructure:"shoutrrr_urls"`
	NEIS         NEISSettings `mapstructure:"neis"`
}

// NEISSettings identifies the school against the NEIS open API.
type NEISSettings struct {
	BaseURL    string   `mapstructure:"base_url"`
	Key        string   `mapstructure:"key"`
	OfficeCode string   `mapstructure:"office_code"`
	SchoolCode string   `mapstructure:"school_code"`
	Timeout    Duration `mapstructure:"timeout"`
}

// SchoolLifeSettings configures the meal and weather fetchers.
type SchoolLifeSettings struct {
	Enabled   bool    `mapstructure:"enabled"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
}

// Load reads configuration from the given file (optional), environment
// variables prefixed with CLASSBOARD_, and built-in defaults.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("classboard")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Validate checks cross-field constraints that viper cannot express.
func (s *Settings) Validate() error {
	if s.Upstream.Origin == "" {
		return errors.New("upstream.origin is required")
	}
	u, err := url.Parse(s.Upstream.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.origin %q is not a valid absolute URL", s.Upstream.Origin)
	}
	if s.Cache.Version < 1 {
		return fmt.Errorf("cache.version must be >= 1, got %d", s.Cache.Version)
	}
	switch s.Cache.Database.Driver {
	case "sqlite":
		if s.Cache.Database.Path == "" {
			return errors.New("cache.database.path is required for the sqlite driver")
		}
	case "mysql":
		if s.Cache.Database.DSN == "" {
			return errors.New("cache.database.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unsupported cache.database.driver %q", s.Cache.Database.Driver)
	}
	for _, p := range s.Cache.Precache {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("precache entry %q must be a same-origin absolute path", p)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)

	// Registered empty so the env override binds; Validate still requires it.
	v.SetDefault("upstream.origin", "")
	v.SetDefault("upstream.timeout", "15s")
	v.SetDefault("upstream.bypass_prefixes", []string{"/api/", "/auth/"})
	v.SetDefault("upstream.session_check_path", "/auth/me")

	v.SetDefault("cache.version", 1)
	v.SetDefault("cache.offline_shell", "/offline.html")
	v.SetDefault("cache.hot_ttl", "5m")
	v.SetDefault("cache.database.driver", "sqlite")
	v.SetDefault("cache.database.path", "classboard-cache.db")
	v.SetDefault("cache.database.dsn", "")
	v.SetDefault("cache.precache", []string{
		"/",
		"/offline.html",
		"/static/css/app.css",
		"/static/js/app.js",
		"/static/js/board.js",
		"/static/js/chat.js",
		"/static/icons/icon-192.png",
		"/static/icons/icon-512.png",
		"/manifest.webmanifest",
	})

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.timezone", "Asia/Seoul")
	v.SetDefault("notifications.check_interval", "1m")
	v.SetDefault("notifications.title", "오늘의 시간표")
	v.SetDefault("notifications.tag", "timetable-daily")
	v.SetDefault("notifications.target_path", "/board")
	v.SetDefault("notifications.icon", "/static/icons/icon-192.png")
	v.SetDefault("notifications.badge", "/static/icons/icon-192.png")
	v.SetDefault("notifications.neis.base_url", "https://open.neis.go.kr/hub")
	v.SetDefault("notifications.neis.key", "")
	v.SetDefault("notifications.neis.office_code", "J10")
	v.SetDefault("notifications.neis.school_code", "7530560")
	v.SetDefault("notifications.neis.timeout", "15s")

	v.SetDefault("schoollife.enabled", true)
	v.SetDefault("schoollife.latitude", 37.3405)
	v.SetDefault("schoollife.longitude", 126.7338)
}
