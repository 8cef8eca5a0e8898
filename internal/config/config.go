package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/share-your-space/shareyourspace-frontend-sub001/pkg/config"
	"github.com/share-your-space/shareyourspace-frontend-sub001/pkg/storage"
)

type Config struct {
	Server    ServerConfig
	Session   SessionConfig
	WebSocket WebSocketConfig
	Reconnect ReconnectConfig
	Outbox    OutboxConfig
	Typing    TypingConfig
	Reconcile ReconcileConfig
	History   HistoryConfig
	Upload    UploadConfig
	View      ViewConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SessionConfig is supplied by the auth collaborator.
type SessionConfig struct {
	AuthToken      string        `mapstructure:"auth_token"`
	APIBaseURL     string        `mapstructure:"api_base_url"`
	SocketURL      string        `mapstructure:"socket_url"`
	RequestTimeout time.Duration `mapstructure:"-"`
}

type WebSocketConfig struct {
	PingInterval     time.Duration `mapstructure:"-"`
	PongWait         time.Duration `mapstructure:"-"`
	WriteWait        time.Duration `mapstructure:"-"`
	HandshakeTimeout time.Duration `mapstructure:"-"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
}

type ReconnectConfig struct {
	InitialInterval time.Duration `mapstructure:"-"`
	MaxInterval     time.Duration `mapstructure:"-"`
	Multiplier      float64
}

type OutboxConfig struct {
	Size int
}

type TypingConfig struct {
	PingInterval time.Duration `mapstructure:"-"`
	Decay        time.Duration `mapstructure:"-"`
}

type ReconcileConfig struct {
	MatchWindow time.Duration `mapstructure:"-"`
}

type HistoryConfig struct {
	PageSize int `mapstructure:"page_size"`
}

type UploadConfig struct {
	Driver    string // rest, s3, local
	Path      string
	KeyPrefix string        `mapstructure:"key_prefix"`
	URLExpiry time.Duration `mapstructure:"-"`
	MaxSize   int64         `mapstructure:"max_size"`
	S3        storage.S3Config
	Local     storage.LocalConfig
}

type ViewConfig struct {
	Terminal bool
	Width    int
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8095)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("session.api_base_url", "http://localhost:8000/api/v1")
	v.SetDefault("session.socket_url", "ws://localhost:8000/ws/chat")
	v.SetDefault("session.request_timeout", "10s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.handshake_timeout", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("reconnect.initial_interval", "1s")
	v.SetDefault("reconnect.max_interval", "30s")
	v.SetDefault("reconnect.multiplier", 2.0)
	v.SetDefault("outbox.size", 256)
	v.SetDefault("typing.ping_interval", "2s")
	v.SetDefault("typing.decay", "5s")
	v.SetDefault("reconcile.match_window", "30s")
	v.SetDefault("history.page_size", 50)
	v.SetDefault("upload.driver", "rest")
	v.SetDefault("upload.path", "/chat/uploads")
	v.SetDefault("upload.key_prefix", "chat-attachments")
	v.SetDefault("upload.url_expiry", "168h")
	v.SetDefault("upload.max_size", 10<<20)
	v.SetDefault("upload.local.base_path", "./data/uploads")
	v.SetDefault("view.terminal", false)
	v.SetDefault("view.width", 72)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("session.auth_token", "AUTH_TOKEN")
	v.BindEnv("session.api_base_url", "API_BASE_URL")
	v.BindEnv("session.socket_url", "SOCKET_URL")
	v.BindEnv("upload.driver", "UPLOAD_DRIVER")
	v.BindEnv("upload.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("upload.s3.bucket", "S3_BUCKET")
	v.BindEnv("upload.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("upload.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("upload.s3.public_url", "S3_PUBLIC_URL")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Durations are parsed here; bad values fall back to the default
	cfg.Session.RequestTimeout = parseDuration(v, "session.request_timeout", 10*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.WebSocket.HandshakeTimeout = parseDuration(v, "websocket.handshake_timeout", 10*time.Second)
	cfg.Reconnect.InitialInterval = parseDuration(v, "reconnect.initial_interval", time.Second)
	cfg.Reconnect.MaxInterval = parseDuration(v, "reconnect.max_interval", 30*time.Second)
	cfg.Typing.PingInterval = parseDuration(v, "typing.ping_interval", 2*time.Second)
	cfg.Typing.Decay = parseDuration(v, "typing.decay", 5*time.Second)
	cfg.Reconcile.MatchWindow = parseDuration(v, "reconcile.match_window", 30*time.Second)
	cfg.Upload.URLExpiry = parseDuration(v, "upload.url_expiry", 168*time.Hour)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
