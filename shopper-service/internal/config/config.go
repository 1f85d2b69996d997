/**
 * @description
 * Configuration management for shopper-service, mirroring
 * merchant-service's Viper-based env/`.env` loader.
 *
 * @dependencies
 * - github.com/spf13/viper.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration variables for shopper-service.
type Config struct {
	ServerPort          string `mapstructure:"SERVER_PORT"`
	DatabaseURL         string `mapstructure:"DATABASE_URL"`
	RedisURL            string `mapstructure:"REDIS_URL"`
	RabbitMQURL         string `mapstructure:"RABBITMQ_URL"`
	MerchantServiceURL  string `mapstructure:"MERCHANT_SERVICE_URL"`
	PANEncryptionKeyHex string `mapstructure:"PAN_ENCRYPTION_KEY_HEX"`
	NetworkTokenMode    string `mapstructure:"NETWORK_TOKEN_MODE"` // noop|oauth1
	MastercardConsumerKey string `mapstructure:"MASTERCARD_CONSUMER_KEY"`
	MastercardSigningKeyPath string `mapstructure:"MASTERCARD_SIGNING_KEY_PATH"`
	MastercardBaseURL   string `mapstructure:"MASTERCARD_BASE_URL"`
	JWTSecret           string `mapstructure:"JWT_SECRET"`
}

// LoadConfig reads configuration from environment variables, falling back to
// an optional .env file at path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8091")
	viper.SetDefault("MERCHANT_SERVICE_URL", "http://localhost:8090")
	viper.SetDefault("NETWORK_TOKEN_MODE", "noop")

	for _, key := range []string{
		"SERVER_PORT", "DATABASE_URL", "REDIS_URL", "RABBITMQ_URL", "MERCHANT_SERVICE_URL", "PAN_ENCRYPTION_KEY_HEX",
		"NETWORK_TOKEN_MODE", "MASTERCARD_CONSUMER_KEY", "MASTERCARD_SIGNING_KEY_PATH",
		"MASTERCARD_BASE_URL", "JWT_SECRET",
	} {
		_ = viper.BindEnv(key)
	}

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.NetworkTokenMode = strings.ToLower(strings.TrimSpace(config.NetworkTokenMode))
	return
}
