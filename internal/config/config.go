package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dkeye/voicecall/internal/domain"
)

type Signal struct {
	URL          string        `mapstructure:"url"`
	ReconnectMin time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
	SendQueue    int           `mapstructure:"send_queue"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Token        string        `mapstructure:"token"`
}

type Call struct {
	RingTimeout    time.Duration `mapstructure:"ring_timeout"`
	TransportGrace time.Duration `mapstructure:"transport_grace"`
	BusyPolicy     string        `mapstructure:"busy_policy"`
	BusyQueue      int           `mapstructure:"busy_queue"`
	BusyLimit      int           `mapstructure:"busy_limit"`
	BusyWindow     time.Duration `mapstructure:"busy_window"`
}

type Config struct {
	Mode        string   `mapstructure:"mode"`
	Port        int      `mapstructure:"port"`
	Secret      string   `mapstructure:"secret"`
	LogLevel    string   `mapstructure:"log_level"`
	HistoryPath string   `mapstructure:"history_path"`
	ICEServers  []string `mapstructure:"ice_servers"`
	Signal      Signal   `mapstructure:"signal"`
	Call        Call     `mapstructure:"call"`
	// Members maps chat id to the local member id in that chat.
	Members map[string]int64 `mapstructure:"members"`
	// MemberID is used for chats missing from Members.
	MemberID int64 `mapstructure:"member_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("member_id", 0)
	v.SetDefault("history_path", "calls.db")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("signal.url", "ws://localhost:8081/ws")
	v.SetDefault("signal.reconnect_min", "500ms")
	v.SetDefault("signal.reconnect_max", "30s")
	v.SetDefault("signal.send_queue", 256)
	v.SetDefault("signal.ping_period", "20s")
	v.SetDefault("signal.write_timeout", "5s")
	v.SetDefault("signal.token", "")

	v.SetDefault("call.ring_timeout", "60s")
	v.SetDefault("call.transport_grace", "15s")
	v.SetDefault("call.busy_policy", "decline")
	v.SetDefault("call.busy_queue", 1)
	v.SetDefault("call.busy_limit", 3)
	v.SetDefault("call.busy_window", "30s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (or the file named by the
// "config" flag), then VOICECALL_* env vars, then explicitly set flags.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("VOICECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileName := ""
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
		if f := flags.Lookup("config"); f != nil {
			fileName = f.Value.String()
		}
	}
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("signal", cfg.Signal.URL).
		Str("busy_policy", cfg.Call.BusyPolicy).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Signal.URL == "" {
		errs = append(errs, errors.New("signal.url is required"))
	}
	if c.Call.RingTimeout <= 0 {
		errs = append(errs, errors.New("call.ring_timeout must be positive"))
	}
	if c.Signal.ReconnectMax < c.Signal.ReconnectMin {
		errs = append(errs, errors.New("signal.reconnect_max below reconnect_min"))
	}
	for chat := range c.Members {
		if _, err := strconv.ParseInt(chat, 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("members: chat id %q is not a number", chat))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// LocalMembers returns the chat to local member mapping with typed keys.
func (c *Config) LocalMembers() map[domain.ChatID]domain.MemberID {
	out := make(map[domain.ChatID]domain.MemberID, len(c.Members))
	for chat, member := range c.Members {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			continue
		}
		out[domain.ChatID(id)] = domain.MemberID(member)
	}
	return out
}
