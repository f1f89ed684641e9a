// Package config loads the relay's environment-sourced settings, the event
// allow-list, and BLAKE3 fingerprints of configuration inputs.
//
// Settings come from the process environment (optionally seeded by a .env
// file); the allow-list comes from a YAML file grouped under a namespace key
// per webhook source. Both are loaded once at startup and treated as
// immutable afterwards, so concurrent reads need no synchronization.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Settings holds the relay configuration. All fields are read once at
// process start and never mutated.
type Settings struct {
	// TelegramBotToken authenticates the delivery sink. Required.
	TelegramBotToken string

	// TelegramChatID is the single chat all messages go to. Required.
	TelegramChatID int64

	// Domain is the public host the relay is served under. Required.
	Domain string

	// BotInternalPort is the listening port. Default 8080.
	BotInternalPort int

	// RemnawaveWebhookSecret is the HMAC key for Remnawave signatures.
	RemnawaveWebhookSecret string

	// AlertWebhookSecret is the URL token expected on the alert endpoint.
	AlertWebhookSecret string

	// RemnawaveEnabled controls whether the Remnawave endpoint is served.
	RemnawaveEnabled bool

	// EventsConfig is the path to the allow-list YAML file.
	EventsConfig string

	LogLevel string
	LogFile  string
}

// Load reads settings from the environment. A .env file in the working
// directory seeds unset variables, matching how the relay is deployed.
// Returns an error naming every missing required key.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	// .env is optional; real environment variables always win.
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	v.SetDefault("BOT_INTERNAL_PORT", 8080)
	v.SetDefault("REMNAWAVE_ENABLED", true)
	v.SetDefault("EVENTS_CONFIG", "config/events.yaml")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("LOG_FILE", "bot.log")

	s := &Settings{
		TelegramBotToken:       v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:         v.GetInt64("TELEGRAM_CHAT_ID"),
		Domain:                 v.GetString("DOMAIN"),
		BotInternalPort:        v.GetInt("BOT_INTERNAL_PORT"),
		RemnawaveWebhookSecret: v.GetString("REMNAWAVE_WEBHOOK_SECRET"),
		AlertWebhookSecret:     v.GetString("ALERT_WEBHOOK_SECRET"),
		RemnawaveEnabled:       v.GetBool("REMNAWAVE_ENABLED"),
		EventsConfig:           v.GetString("EVENTS_CONFIG"),
		LogLevel:               v.GetString("LOG_LEVEL"),
		LogFile:                v.GetString("LOG_FILE"),
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	var missing []string
	if s.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if s.TelegramChatID == 0 {
		missing = append(missing, "TELEGRAM_CHAT_ID")
	}
	if s.Domain == "" {
		missing = append(missing, "DOMAIN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if s.BotInternalPort <= 0 || s.BotInternalPort > 65535 {
		return fmt.Errorf("BOT_INTERNAL_PORT out of range: %d", s.BotInternalPort)
	}
	return nil
}
