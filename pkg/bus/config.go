package bus

import (
	"encoding/json"
	"net"
	"net/url"
	"os"
	"strconv"

	"go.uber.org/zap"
)

// Config is the communication configuration persisted at .guild/bus.json:
// where the broker lives and which exchanges the guild declares.
type Config struct {
	Broker    BrokerConfig      `json:"broker"`
	Exchanges map[string]string `json:"exchanges"` // exchange name -> exchange type
}

// BrokerConfig identifies the AMQP broker endpoint and credentials.
type BrokerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	VirtualHost string `json:"virtual_host"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

// DefaultConfig returns the built-in configuration: a local broker with the
// stock credentials and the five guild exchanges.
func DefaultConfig() Config {
	return Config{
		Broker: BrokerConfig{
			Host:        "localhost",
			Port:        5672,
			VirtualHost: "/",
			Username:    "guest",
			Password:    "guest",
		},
		Exchanges: Exchanges(),
	}
}

// LoadConfig reads the communication config from path. A missing file,
// unreadable file, or malformed document never fails the caller: the
// defaults are used and the reason is logged. Fields absent from the file
// keep their default values.
func LoadConfig(path string, logger *zap.Logger) Config {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Info("communication config not readable, using defaults",
			zap.String("path", path), zap.Error(err))
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Warn("communication config malformed, using defaults",
			zap.String("path", path), zap.Error(err))
		return DefaultConfig()
	}
	return cfg
}

// Addr returns the broker's host:port endpoint.
func (b BrokerConfig) Addr() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// URL builds the AMQP connection URI. The virtual host is passed separately
// through the dial configuration, so the path is left empty here and odd
// vhost names never need escaping.
func (b BrokerConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(b.Username, b.Password),
		Host:   b.Addr(),
	}
	return u.String()
}
