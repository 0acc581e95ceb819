package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":3000"
	DefaultAuthDir       = "sessions"
	DefaultMediaDir      = "media"
	DefaultAddressSuffix = "@s.whatsapp.net"
	DefaultDriver        = "whatsapp"
	DefaultWebhookURL    = "http://n8n:5678/webhook/whatsapp"
	DefaultWebhookSource = "zapgate"
)

type Config struct {
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	Network NetworkConfig `toml:"network"`
	Retry   RetryConfig   `toml:"retry"`
	Webhook WebhookConfig `toml:"webhook"`
	Media   MediaConfig   `toml:"media"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// NetworkConfig describes the chat-network account this gateway serves.
// Driver names a protocol driver registered at init time.
type NetworkConfig struct {
	Driver        string `toml:"driver"`
	PhoneNumber   string `toml:"phone_number"`
	AuthDir       string `toml:"auth_dir"`
	AddressSuffix string `toml:"address_suffix"`
}

// RetryConfig controls reconnect backoff and the pairing settle delay.
type RetryConfig struct {
	BaseDelayMs          int `toml:"base_delay_ms"`
	MaxRetries           int `toml:"max_retries"`
	PairingSettleDelayMs int `toml:"pairing_settle_delay_ms"`
}

// BaseDelay returns the backoff base delay as a duration.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// PairingSettleDelay returns the delay before an automatic pairing-code request.
func (r RetryConfig) PairingSettleDelay() time.Duration {
	return time.Duration(r.PairingSettleDelayMs) * time.Millisecond
}

type WebhookConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Source         string `toml:"source"`
}

// Timeout returns the per-delivery HTTP timeout.
func (w WebhookConfig) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

type MediaConfig struct {
	Dir      string `toml:"dir"`
	MaxBytes int64  `toml:"max_bytes"`
}

// Load reads configuration from path, applying defaults for anything unset.
// A missing file is not an error; the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Network: NetworkConfig{
			Driver:        DefaultDriver,
			AuthDir:       DefaultAuthDir,
			AddressSuffix: DefaultAddressSuffix,
		},
		Retry: RetryConfig{
			BaseDelayMs:          5000,
			MaxRetries:           5,
			PairingSettleDelayMs: 40000,
		},
		Webhook: WebhookConfig{
			URL:            DefaultWebhookURL,
			TimeoutSeconds: 10,
			Source:         DefaultWebhookSource,
		},
		Media: MediaConfig{
			Dir:      DefaultMediaDir,
			MaxBytes: 64 * 1024 * 1024,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
