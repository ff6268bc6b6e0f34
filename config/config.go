package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	NodeID  string        `yaml:"node_id" env:"RELAY_NODE_ID"`
	HTTP    HTTPConfig    `yaml:"http"`
	WS      WSConfig      `yaml:"ws"`
	Log     LogConfig     `yaml:"log"`
	Redis   RedisConfig   `yaml:"redis"`
	NATS    NATSConfig    `yaml:"nats"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr" env:"RELAY_HTTP_ADDR"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"RELAY_ALLOWED_ORIGINS" envSeparator:","`
}

// WSConfig 连接相关参数
type WSConfig struct {
	ReadLimit    int64         `yaml:"read_limit" env:"RELAY_WS_READ_LIMIT"`
	SendQueue    int           `yaml:"send_queue" env:"RELAY_WS_SEND_QUEUE"`
	WriteWait    time.Duration `yaml:"write_wait" env:"RELAY_WS_WRITE_WAIT"`
	PongWait     time.Duration `yaml:"pong_wait" env:"RELAY_WS_PONG_WAIT"`
	PingInterval time.Duration `yaml:"ping_interval" env:"RELAY_WS_PING_INTERVAL"`
	JoinTimeout  time.Duration `yaml:"join_timeout" env:"RELAY_WS_JOIN_TIMEOUT"` // 未 join 的连接多久后关闭
	SweepEvery   time.Duration `yaml:"sweep_every" env:"RELAY_WS_SWEEP_EVERY"`
	MaxPerUser   int           `yaml:"max_per_user" env:"RELAY_WS_MAX_PER_USER"` // 0 不限制
	RatePerSec   float64       `yaml:"rate_per_sec" env:"RELAY_WS_RATE_PER_SEC"`
	RateBurst    int           `yaml:"rate_burst" env:"RELAY_WS_RATE_BURST"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"RELAY_LOG_LEVEL"`
	Format string `yaml:"format" env:"RELAY_LOG_FORMAT"`
}

// RedisConfig Addr 为空时不开启 presence 镜像
type RedisConfig struct {
	Addr        string        `yaml:"addr" env:"RELAY_REDIS_ADDR"`
	Password    string        `yaml:"password" env:"RELAY_REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"RELAY_REDIS_DB"`
	PresenceTTL time.Duration `yaml:"presence_ttl" env:"RELAY_REDIS_PRESENCE_TTL"`
}

type NATSConfig struct {
	URL             string `yaml:"url" env:"RELAY_NATS_URL"`
	Name            string `yaml:"name" env:"RELAY_NATS_NAME"`
	PresenceSubject string `yaml:"presence_subject" env:"RELAY_NATS_PRESENCE_SUBJECT"`
	IngressSubject  string `yaml:"ingress_subject" env:"RELAY_NATS_INGRESS_SUBJECT"`
}

// StorageConfig PostgresDSN 为空时使用内存存储
type StorageConfig struct {
	PostgresDSN string `yaml:"postgres_dsn" env:"RELAY_POSTGRES_DSN"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" env:"RELAY_JWT_SECRET"`
	CallAPIKey    string        `yaml:"call_api_key" env:"RELAY_CALL_API_KEY"`
	CallAPISecret string        `yaml:"call_api_secret" env:"RELAY_CALL_API_SECRET"`
	CallTokenTTL  time.Duration `yaml:"call_token_ttl" env:"RELAY_CALL_TOKEN_TTL"`
}

func Default() Config {
	return Config{
		NodeID: "relay-1",
		HTTP: HTTPConfig{
			Addr:           ":3001",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		WS: WSConfig{
			ReadLimit:    1 << 20,
			SendQueue:    256,
			WriteWait:    10 * time.Second,
			PongWait:     60 * time.Second,
			PingInterval: 25 * time.Second,
			JoinTimeout:  60 * time.Second,
			SweepEvery:   10 * time.Second,
			RatePerSec:   50,
			RateBurst:    100,
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Redis: RedisConfig{
			PresenceTTL: 90 * time.Second,
		},
		NATS: NATSConfig{
			Name:            "pprelay",
			PresenceSubject: "relay.presence",
			IngressSubject:  "relay.ingress",
		},
		Auth: AuthConfig{CallTokenTTL: time.Hour},
	}
}

// Load 读取顺序：默认值 < yaml 文件 < .env 文件 < 环境变量
// path 和 envFile 都可以为空。
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.NodeID) == "" {
		problems = append(problems, "node_id is required")
	}
	if c.HTTP.Addr == "" {
		problems = append(problems, "http.addr is required")
	}
	if c.WS.SendQueue <= 0 {
		problems = append(problems, "ws.send_queue must be > 0")
	}
	if c.WS.ReadLimit <= 0 {
		problems = append(problems, "ws.read_limit must be > 0")
	}
	if c.WS.PingInterval <= 0 || c.WS.PongWait <= c.WS.PingInterval {
		problems = append(problems, "ws.pong_wait must be greater than ws.ping_interval")
	}
	if c.WS.WriteWait <= 0 {
		problems = append(problems, "ws.write_wait must be > 0")
	}
	if c.WS.RatePerSec < 0 || c.WS.RateBurst < 0 {
		problems = append(problems, "ws rate limits must not be negative")
	}
	// 空密钥的 HS256 谁都能签，拒绝启动
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		problems = append(problems, "auth.jwt_secret is required")
	}
	if c.Redis.Addr != "" && c.Redis.PresenceTTL <= 0 {
		problems = append(problems, "redis.presence_ttl must be > 0")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		problems = append(problems, "log.format must be console or json")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
