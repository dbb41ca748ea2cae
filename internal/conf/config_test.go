package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
upstream:
  origin: http://127.0.0.1:5000
`)
	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8090", s.Server.Addr())
	assert.Equal(t, []string{"/api/", "/auth/"}, s.Upstream.BypassPrefixes)
	assert.Equal(t, "/auth/me", s.Upstream.SessionCheckPath)
	assert.Equal(t, 15*time.Second, s.Upstream.Timeout.Std())

	assert.Equal(t, 1, s.Cache.Version)
	assert.Equal(t, "/offline.html", s.Cache.OfflineShell)
	assert.Equal(t, 5*time.Minute, s.Cache.HotTTL.Std())
	assert.Equal(t, "sqlite", s.Cache.Database.Driver)
	assert.Contains(t, s.Cache.Precache, "/")
	assert.Contains(t, s.Cache.Precache, "/offline.html")
	assert.Contains(t, s.Cache.Precache, "/manifest.webmanifest")

	assert.True(t, s.Notifications.Enabled)
	assert.Equal(t, "Asia/Seoul", s.Notifications.Timezone)
	assert.Equal(t, time.Minute, s.Notifications.CheckInterval.Std())
	assert.Equal(t, "오늘의 시간표", s.Notifications.Title)
	assert.Equal(t, "timetable-daily", s.Notifications.Tag)
	assert.Equal(t, "/board", s.Notifications.TargetPath)
	assert.Equal(t, "https://open.neis.go.kr/hub", s.Notifications.NEIS.BaseURL)
	assert.Equal(t, "J10", s.Notifications.NEIS.OfficeCode)
	assert.Equal(t, "7530560", s.Notifications.NEIS.SchoolCode)

	assert.True(t, s.SchoolLife.Enabled)
	assert.InDelta(t, 37.3405, s.SchoolLife.Latitude, 0.0001)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
upstream:
  origin: http://backend:5000
  timeout: 3s
cache:
  version: 7
notifications:
  enabled: false
  check_interval: 30s
`)
	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://backend:5000", s.Upstream.Origin)
	assert.Equal(t, 3*time.Second, s.Upstream.Timeout.Std())
	assert.Equal(t, 7, s.Cache.Version)
	assert.False(t, s.Notifications.Enabled)
	assert.Equal(t, 30*time.Second, s.Notifications.CheckInterval.Std())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CLASSBOARD_UPSTREAM_ORIGIN", "http://env-backend:5000")
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://env-backend:5000", s.Upstream.Origin)
}

func TestLoad_MissingOriginFails(t *testing.T) {
	_, err := Load("")
	assert.ErrorContains(t, err, "upstream.origin is required")
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Settings {
		return &Settings{
			Upstream: UpstreamSettings{Origin: "http://127.0.0.1:5000"},
			Cache: CacheSettings{
				Version:  1,
				Precache: []string{"/", "/offline.html"},
				Database: DatabaseSettings{Driver: "sqlite", Path: "cache.db"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(s *Settings) {}, ""},
		{"relative origin", func(s *Settings) { s.Upstream.Origin = "backend:5000" }, "not a valid absolute URL"},
		{"zero cache version", func(s *Settings) { s.Cache.Version = 0 }, "cache.version must be >= 1"},
		{"sqlite without path", func(s *Settings) { s.Cache.Database.Path = "" }, "cache.database.path is required"},
		{"mysql without dsn", func(s *Settings) {
			s.Cache.Database = DatabaseSettings{Driver: "mysql"}
		}, "cache.database.dsn is required"},
		{"unknown driver", func(s *Settings) { s.Cache.Database.Driver = "postgres" }, "unsupported cache.database.driver"},
		{"relative precache path", func(s *Settings) {
			s.Cache.Precache = append(s.Cache.Precache, "static/app.css")
		}, "must be a same-origin absolute path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := valid()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
