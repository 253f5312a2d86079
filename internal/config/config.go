// Package config loads the daemon's configuration: a flat record of the
// default nick and the set of IRC servers to connect to, read once at
// startup and passed by value into the rest of the daemon.
package config

// Security selects plaintext or TLS for one server's connection.
type Security string

const (
	SecurityPlain Security = "plain"
	SecurityTLS   Security = "tls"
)

// ServerConfig describes one configured IRC server.
type ServerConfig struct {
	UserName        string   `mapstructure:"username" yaml:"username,omitempty"`
	Password        string   `mapstructure:"password" yaml:"password,omitempty"`
	Host            string   `mapstructure:"host" yaml:"host"`
	Port            int      `mapstructure:"port" yaml:"port"`
	Security        Security `mapstructure:"security" yaml:"security"`
	DefaultChannels []string `mapstructure:"default_channels" yaml:"default_channels"`

	// Identify is a printf-style template applied to the password to
	// build the raw identification line sent right after registration,
	// e.g. "PRIVMSG NickServ :identify %s". When Identify is empty no
	// identification line is sent; a non-empty Password is still sent as
	// the server password during registration either way.
	Identify string `mapstructure:"identify" yaml:"identify,omitempty"`
}

// Config is the daemon's top-level configuration.
type Config struct {
	DefaultUserName string                  `mapstructure:"default_username" yaml:"default_username"`
	SocketPath      string                  `mapstructure:"socket_path" yaml:"socket_path"`
	LogLevel        string                  `mapstructure:"log_level" yaml:"log_level"`
	Servers         map[string]ServerConfig `mapstructure:"servers" yaml:"servers"`
}

// Default returns configuration with reasonable starter defaults: no
// servers, info-level logging, and the default socket path.
func Default() Config {
	return Config{
		LogLevel:   "info",
		SocketPath: DefaultSocketPath(),
		Servers:    map[string]ServerConfig{},
	}
}

// UpdateFrom overwrites non-zero values from other into the receiver,
// used to layer flag overrides on top of a loaded config.
func (c *Config) UpdateFrom(other Config) {
	if other.DefaultUserName != "" {
		c.DefaultUserName = other.DefaultUserName
	}
	if other.SocketPath != "" {
		c.SocketPath = other.SocketPath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if len(other.Servers) > 0 {
		c.Servers = other.Servers
	}
}

// ResolveUserName returns srv.UserName, falling back to the daemon-level
// default when the server doesn't override it.
func (c Config) ResolveUserName(srv ServerConfig) string {
	if srv.UserName != "" {
		return srv.UserName
	}
	return c.DefaultUserName
}
