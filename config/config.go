package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfigCreated は設定ファイルが存在せず、テンプレートを書き出したことを示します。
var ErrConfigCreated = errors.New("config template created; edit it and restart")

// プレースホルダーのままの値は未設定として扱います。
const (
	placeholderChatToken = "YOUR_CHAT_BOT_TOKEN_HERE"
	placeholderChannel   = "YOUR_CHANNEL_ID_HERE"
	placeholderAPIKey    = "YOUR_CHOSEN_SECRET_API_KEY_HERE"
	placeholderAuthToken = "YOUR_NGROK_AUTHTOKEN_HERE"
)

// Config はアプリケーションの設定を保持します。
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Input   InputConfig   `mapstructure:"input"`
	Server  ServerConfig  `mapstructure:"server"`
	Tunnel  TunnelConfig  `mapstructure:"tunnel"`
	Google  GoogleConfig  `mapstructure:"google"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Storage StorageConfig `mapstructure:"storage"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// ChatConfig はチャットボットの接続情報です。
type ChatConfig struct {
	Token       string        `mapstructure:"token"`
	Channel     string        `mapstructure:"channel"`
	Prefix      string        `mapstructure:"prefix"`
	Command     string        `mapstructure:"command"`
	ActionDelay time.Duration `mapstructure:"action_delay"`
}

type InputConfig struct {
	Binary string `mapstructure:"binary"`
}

// ServerConfig は推論エンドポイントの設定です。
type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	Backend    string `mapstructure:"backend"`
	OllamaURL  string `mapstructure:"ollama_url"`
	CacheDir   string `mapstructure:"cache_dir"`
	CORSOrigin string `mapstructure:"cors_origin"`
}

type TunnelConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AuthToken string `mapstructure:"auth_token"`
	Binary    string `mapstructure:"binary"`
	APIAddr   string `mapstructure:"api_addr"`
}

type GoogleConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type AgentConfig struct {
	MaxSteps    int  `mapstructure:"max_steps"`
	MaxFailures int  `mapstructure:"max_failures"`
	Headless    bool `mapstructure:"headless"`
}

type StorageConfig struct {
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.file", "relay.log")
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("chat.token", placeholderChatToken)
	v.SetDefault("chat.channel", placeholderChannel)
	v.SetDefault("chat.prefix", "!")
	v.SetDefault("chat.command", "pc")
	v.SetDefault("chat.action_delay", 500*time.Millisecond)

	v.SetDefault("input.binary", "xdotool")

	v.SetDefault("server.port", 5000)
	v.SetDefault("server.api_key", placeholderAPIKey)
	v.SetDefault("server.backend", "ollama")
	v.SetDefault("server.ollama_url", "http://127.0.0.1:11434")
	v.SetDefault("server.cache_dir", "~/.cache/huggingface")
	v.SetDefault("server.cors_origin", "*")

	v.SetDefault("tunnel.enabled", true)
	v.SetDefault("tunnel.auth_token", placeholderAuthToken)
	v.SetDefault("tunnel.binary", "ngrok")
	v.SetDefault("tunnel.api_addr", "http://127.0.0.1:4040")

	v.SetDefault("google.model", "gemini-2.5-flash")

	v.SetDefault("agent.max_steps", 25)
	v.SetDefault("agent.max_failures", 3)
	v.SetDefault("agent.headless", false)

	v.SetDefault("storage.path", "relay.db")
	v.SetDefault("storage.retention", 30*24*time.Hour)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Google のキーは慣例の環境変数名も受け付ける
	_ = v.BindEnv("google.api_key", "RELAY_GOOGLE_API_KEY", "GOOGLE_API_KEY")
	return v
}

// Load は設定ファイルと環境変数から設定を読み込みます。
// 設定ファイルが見つからない場合はデフォルト値と環境変数だけで組み立てます。
func Load(path string) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定の展開に失敗しました: %w", err)
	}
	return &cfg, nil
}

// EnsureFile は設定ファイルが存在しなければテンプレートを書き出し、ErrConfigCreated を返します。
func EnsureFile(path string) error {
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	v := viper.New()
	setDefaults(v)
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("設定テンプレートの作成に失敗しました: %w", err)
	}
	return fmt.Errorf("%s: %w", path, ErrConfigCreated)
}

func isUnset(value, placeholder string) bool {
	return strings.TrimSpace(value) == "" || value == placeholder
}

// ValidateChat はチャットボットの起動に必要な値を検証します。
func (c *Config) ValidateChat() error {
	if isUnset(c.Chat.Token, placeholderChatToken) {
		return errors.New("chat.token is not configured")
	}
	if c.Chat.Channel == placeholderChannel {
		return errors.New("chat.channel still holds the placeholder value")
	}
	if c.Chat.Prefix == "" || c.Chat.Command == "" {
		return errors.New("chat.prefix and chat.command must not be empty")
	}
	if c.Chat.ActionDelay < 0 {
		return errors.New("chat.action_delay must not be negative")
	}
	return nil
}

// ValidateServer は推論サーバーの起動に必要な秘密情報を検証します。
func (c *Config) ValidateServer() error {
	if isUnset(c.Server.APIKey, placeholderAPIKey) {
		return errors.New("server.api_key is not configured")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	switch c.Server.Backend {
	case "ollama", "gemini":
	default:
		return fmt.Errorf("server.backend %q is not supported (ollama, gemini)", c.Server.Backend)
	}
	if c.Tunnel.Enabled && isUnset(c.Tunnel.AuthToken, placeholderAuthToken) {
		return errors.New("tunnel.auth_token is not configured")
	}
	return nil
}
