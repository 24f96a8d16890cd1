package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want %v", cfg.Server.Timeout, 30*time.Second)
	}
	if cfg.Tree.ExpandConcurrency != 4 {
		t.Errorf("default expand concurrency = %d, want 4", cfg.Tree.ExpandConcurrency)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default log level = %q, want %q", cfg.Log.Level, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  url: https://nitrate.example.com/
  timeout: 10s
tree:
  expand_concurrency: 8
  expand_depth: 3
log:
  level: debug
  file: /tmp/plantree.log
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := Config{
		Server: Server{URL: "https://nitrate.example.com/", Timeout: 10 * time.Second},
		Tree:   Tree{ExpandConcurrency: 8, ExpandDepth: 3},
		Log:    Log{Level: "debug", File: "/tmp/plantree.log"},
	}
	if *cfg != want {
		t.Errorf("Load() = %+v, want %+v", *cfg, want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/plantree.yaml")
	if err != nil {
		t.Fatalf("Load() should return defaults for missing file, got error: %v", err)
	}
	if want := DefaultConfig(); *cfg != want {
		t.Errorf("Load(missing) = %+v, want defaults %+v", *cfg, want)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "{{invalid yaml")

	if _, err := Load(path); err == nil {
		t.Fatal("Load(invalid YAML) should return error")
	}
}

func TestLoad_UnknownField(t *testing.T) {
	path := writeConfig(t, `
server:
  ulr: http://typo/
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() should return error for unknown field 'ulr'")
	}
}

func TestLoad_EmptyAndCommentOnly(t *testing.T) {
	for name, body := range map[string]string{
		"empty":        "",
		"comment only": "# just a comment\n",
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, body))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if want := DefaultConfig(); *cfg != want {
				t.Errorf("Load() = %+v, want defaults %+v", *cfg, want)
			}
		})
	}
}

func TestLoad_LayeredPriority(t *testing.T) {
	// Given: a user config that sets the server and a project config
	// that only overrides the timeout
	userCfg := writeConfig(t, `
server:
  url: https://user.example.com/
  timeout: 2m
`)
	projectCfg := writeConfig(t, `
server:
  timeout: 5s
`)

	// When: loading both layers
	cfg, err := LoadLayered(userCfg, projectCfg)
	if err != nil {
		t.Fatalf("LoadLayered() error = %v", err)
	}

	// Then: each field comes from the highest layer that sets it
	if cfg.Server.URL != "https://user.example.com/" {
		t.Errorf("url = %q, want user value", cfg.Server.URL)
	}
	if cfg.Server.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want %v", cfg.Server.Timeout, 5*time.Second)
	}
	if cfg.Tree.ExpandConcurrency != 4 {
		t.Errorf("expand concurrency = %d, want default 4", cfg.Tree.ExpandConcurrency)
	}
}

func TestLoadLayered_SkipsMissingAndEmptyPaths(t *testing.T) {
	cfg, err := LoadLayered("", "/no/user.yaml", "/no/project.yaml")
	if err != nil {
		t.Fatalf("LoadLayered(all missing) error = %v", err)
	}
	if want := DefaultConfig(); *cfg != want {
		t.Errorf("got %+v, want defaults %+v", *cfg, want)
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name    string
		envs    map[string]string
		wantErr bool
		check   func(*testing.T, Config)
	}{
		{
			name: "PLANTREE_SERVER_URL overrides url",
			envs: map[string]string{"PLANTREE_SERVER_URL": "https://env.example.com/"},
			check: func(t *testing.T, c Config) {
				if c.Server.URL != "https://env.example.com/" {
					t.Errorf("url = %q", c.Server.URL)
				}
			},
		},
		{
			name: "PLANTREE_TIMEOUT overrides timeout",
			envs: map[string]string{"PLANTREE_TIMEOUT": "45s"},
			check: func(t *testing.T, c Config) {
				if c.Server.Timeout != 45*time.Second {
					t.Errorf("timeout = %v, want 45s", c.Server.Timeout)
				}
			},
		},
		{
			name: "PLANTREE_EXPAND_CONCURRENCY overrides concurrency",
			envs: map[string]string{"PLANTREE_EXPAND_CONCURRENCY": "2"},
			check: func(t *testing.T, c Config) {
				if c.Tree.ExpandConcurrency != 2 {
					t.Errorf("expand concurrency = %d, want 2", c.Tree.ExpandConcurrency)
				}
			},
		},
		{
			name: "log overrides",
			envs: map[string]string{"PLANTREE_LOG_LEVEL": "debug", "PLANTREE_LOG_FILE": "/tmp/x.log"},
			check: func(t *testing.T, c Config) {
				if c.Log.Level != "debug" || c.Log.File != "/tmp/x.log" {
					t.Errorf("log = %+v", c.Log)
				}
			},
		},
		{
			name:    "invalid PLANTREE_TIMEOUT returns error",
			envs:    map[string]string{"PLANTREE_TIMEOUT": "notaduration"},
			wantErr: true,
		},
		{
			name:    "invalid PLANTREE_EXPAND_CONCURRENCY returns error",
			envs:    map[string]string{"PLANTREE_EXPAND_CONCURRENCY": "many"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envs {
				t.Setenv(k, v)
			}
			cfg := DefaultConfig()
			err := cfg.ApplyEnv()

			if tt.wantErr {
				if err == nil {
					t.Fatal("ApplyEnv() should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEnv() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", modify: func(*Config) {}},
		{name: "empty url", modify: func(c *Config) { c.Server.URL = "" }, wantErr: true},
		{name: "non-http url", modify: func(c *Config) { c.Server.URL = "ftp://example.com" }, wantErr: true},
		{name: "url without host", modify: func(c *Config) { c.Server.URL = "http://" }, wantErr: true},
		{name: "zero timeout", modify: func(c *Config) { c.Server.Timeout = 0 }, wantErr: true},
		{name: "zero concurrency", modify: func(c *Config) { c.Tree.ExpandConcurrency = 0 }, wantErr: true},
		{name: "negative depth", modify: func(c *Config) { c.Tree.ExpandDepth = -1 }, wantErr: true},
		{name: "unknown level", modify: func(c *Config) { c.Log.Level = "verbose" }, wantErr: true},
		{name: "warn level", modify: func(c *Config) { c.Log.Level = "warn" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
