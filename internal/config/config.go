/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payment-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisReplayPrefix    string `mapstructure:"REDIS_REPLAY_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventExchange        string `mapstructure:"EVENT_EXCHANGE"`
	DarajaBaseURL        string `mapstructure:"DARAJA_BASE_URL"`
	DarajaConsumerKey    string `mapstructure:"DARAJA_CONSUMER_KEY"`
	DarajaConsumerSecret string `mapstructure:"DARAJA_CONSUMER_SECRET"`
	DarajaShortCode      string `mapstructure:"DARAJA_SHORT_CODE"`
	DarajaPasskey        string `mapstructure:"DARAJA_PASSKEY"`
	CallbackBaseURL      string `mapstructure:"CALLBACK_BASE_URL"`
	AuthJWKSURL          string `mapstructure:"AUTH_JWKS_URL"`
	AdminUserID          string `mapstructure:"ADMIN_USER_ID"`
	StoreTimeoutMs       int    `mapstructure:"STORE_TIMEOUT_MS"`
	WebhookReplayTTLMin  int    `mapstructure:"WEBHOOK_REPLAY_TTL_MINUTES"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("EVENT_EXCHANGE", "payment_service.events")
	viper.SetDefault("DARAJA_BASE_URL", "https://sandbox.safaricom.co.ke")
	viper.SetDefault("REDIS_REPLAY_PREFIX", "captain:payment_replay")
	viper.SetDefault("STORE_TIMEOUT_MS", 10000)
	viper.SetDefault("WEBHOOK_REPLAY_TTL_MINUTES", 1440)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYMENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_REPLAY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("DARAJA_BASE_URL")
	_ = viper.BindEnv("DARAJA_CONSUMER_KEY")
	_ = viper.BindEnv("DARAJA_CONSUMER_SECRET")
	_ = viper.BindEnv("DARAJA_SHORT_CODE")
	_ = viper.BindEnv("DARAJA_PASSKEY")
	_ = viper.BindEnv("CALLBACK_BASE_URL")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("ADMIN_USER_ID")
	_ = viper.BindEnv("STORE_TIMEOUT_MS")
	_ = viper.BindEnv("WEBHOOK_REPLAY_TTL_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisReplayPrefix = strings.TrimSpace(config.RedisReplayPrefix)
	if config.RedisReplayPrefix == "" {
		config.RedisReplayPrefix = "captain:payment_replay"
	}
	config.CallbackBaseURL = strings.TrimRight(strings.TrimSpace(config.CallbackBaseURL), "/")

	if config.StoreTimeoutMs <= 0 {
		config.StoreTimeoutMs = 10000
	}
	if config.WebhookReplayTTLMin <= 0 {
		config.WebhookReplayTTLMin = 1440
	}

	return
}
