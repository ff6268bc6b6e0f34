package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaultNeedsOnlyJWTSecret(t *testing.T) {
	c := Default()
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "auth.jwt_secret") {
		t.Fatalf("default without secret: %v", err)
	}
	c.Auth.JWTSecret = "s3cret"
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "relay.yaml", `
node_id: from-yaml
http:
  addr: ":4000"
ws:
  send_queue: 32
  join_timeout: 5s
log:
  level: debug
`)
	envFile := writeFile(t, dir, ".env", "RELAY_LOG_FORMAT=json\n")
	t.Setenv("RELAY_NODE_ID", "from-env")
	t.Setenv("RELAY_JWT_SECRET", "s3cret")
	t.Setenv("RELAY_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Cleanup(func() { os.Unsetenv("RELAY_LOG_FORMAT") })

	c, err := Load(path, envFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.NodeID != "from-env" {
		t.Errorf("env should override yaml, got %q", c.NodeID)
	}
	if c.HTTP.Addr != ":4000" || c.WS.SendQueue != 32 || c.WS.JoinTimeout != 5*time.Second {
		t.Errorf("yaml values not applied: %+v", c)
	}
	if c.Log.Level != "debug" || c.Log.Format != "json" {
		t.Errorf("log config = %+v", c.Log)
	}
	if len(c.HTTP.AllowedOrigins) != 2 || c.HTTP.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", c.HTTP.AllowedOrigins)
	}
	if c.WS.PingInterval != 25*time.Second {
		t.Errorf("default lost: ping_interval = %v", c.WS.PingInterval)
	}
}

func TestLoadMissingEnvFileIsFine(t *testing.T) {
	t.Setenv("RELAY_JWT_SECRET", "s3cret")
	if _, err := Load("", filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"empty node":    func(c *Config) { c.NodeID = " " },
		"blank secret":  func(c *Config) { c.Auth.JWTSecret = "  " },
		"zero queue":    func(c *Config) { c.WS.SendQueue = 0 },
		"pong <= ping":  func(c *Config) { c.WS.PongWait = c.WS.PingInterval },
		"bad format":    func(c *Config) { c.Log.Format = "xml" },
		"redis no ttl":  func(c *Config) { c.Redis.Addr = "localhost:6379"; c.Redis.PresenceTTL = 0 },
		"negative rate": func(c *Config) { c.WS.RatePerSec = -1 },
	}
	for name, mut := range cases {
		c := Default()
		c.Auth.JWTSecret = "s3cret"
		mut(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "relay.yaml", "auth:\n  jwt_secret: s3cret\nlog:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan Config, 1)
	go func() {
		_ = Watch(ctx, path, "", func(_, cur Config) {
			select {
			case changed <- cur:
			default:
			}
		})
	}()

	// 等 watcher 挂上目录
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "relay.yaml", "auth:\n  jwt_secret: s3cret\nlog:\n  level: warn\n")

	select {
	case c := <-changed:
		if c.Log.Level != "warn" {
			t.Fatalf("level = %q", c.Log.Level)
		}
		if Current().Log.Level != "warn" {
			t.Fatalf("current not updated")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
}
