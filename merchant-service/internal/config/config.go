/**
 * @description
 * This package handles configuration management for merchant-service. It
 * uses Viper to read configuration from environment variables (and an
 * optional .env file), providing a centralized way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: Application configuration library.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for merchant-service.
type Config struct {
	ServerPort          string  `mapstructure:"SERVER_PORT"`
	DatabaseURL         string  `mapstructure:"DATABASE_URL"`
	RedisURL            string  `mapstructure:"REDIS_URL"`
	RabbitMQURL         string  `mapstructure:"RABBITMQ_URL"`
	RequestLogQueue     string  `mapstructure:"REQUEST_LOG_QUEUE"`
	MerchantID          string  `mapstructure:"MERCHANT_ID"`
	MerchantName        string  `mapstructure:"MERCHANT_NAME"`
	MerchantURL         string  `mapstructure:"MERCHANT_URL"`
	StepUpEnabled       bool    `mapstructure:"STEP_UP_ENABLED"`
	StepUpAmountThreshold float64 `mapstructure:"STEP_UP_AMOUNT_THRESHOLD"`
	StepUpThresholdSmall  float64 `mapstructure:"STEP_UP_THRESHOLD_SMALL"`
	StepUpThresholdLarge  float64 `mapstructure:"STEP_UP_THRESHOLD_LARGE"`
	DemoOTPMode           bool    `mapstructure:"DEMO_OTP_MODE"`
	DIDSignerURL          string  `mapstructure:"DID_SIGNER_URL"`
	CatalogCheckEnabled   bool    `mapstructure:"CATALOG_CHECK_ENABLED"`
	SweepSchedule         string  `mapstructure:"SWEEP_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables, falling back to
// an optional .env file at path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8090")
	viper.SetDefault("REQUEST_LOG_QUEUE", "merchant_service.request_log")
	viper.SetDefault("MERCHANT_ID", "merchant-demo-1")
	viper.SetDefault("MERCHANT_NAME", "UCP Demo Merchant")
	viper.SetDefault("MERCHANT_URL", "https://merchant.example.com")
	viper.SetDefault("STEP_UP_ENABLED", false)
	viper.SetDefault("STEP_UP_AMOUNT_THRESHOLD", 100.0)
	viper.SetDefault("STEP_UP_THRESHOLD_SMALL", 0.10)
	viper.SetDefault("STEP_UP_THRESHOLD_LARGE", 0.30)
	viper.SetDefault("DEMO_OTP_MODE", true)
	viper.SetDefault("CATALOG_CHECK_ENABLED", false)
	viper.SetDefault("SWEEP_SCHEDULE", "@every 1m")

	for _, key := range []string{
		"SERVER_PORT", "DATABASE_URL", "REDIS_URL", "RABBITMQ_URL", "REQUEST_LOG_QUEUE",
		"MERCHANT_ID", "MERCHANT_NAME", "MERCHANT_URL", "STEP_UP_ENABLED",
		"STEP_UP_AMOUNT_THRESHOLD", "STEP_UP_THRESHOLD_SMALL", "STEP_UP_THRESHOLD_LARGE",
		"DEMO_OTP_MODE", "DID_SIGNER_URL", "CATALOG_CHECK_ENABLED", "SWEEP_SCHEDULE",
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

	config.MerchantID = strings.TrimSpace(config.MerchantID)
	config.MerchantName = strings.TrimSpace(config.MerchantName)

	if config.StepUpAmountThreshold < 0 {
		log.Printf("level=warn component=config msg=\"negative step-up amount threshold; coercing to default\" value=%f", config.StepUpAmountThreshold)
		config.StepUpAmountThreshold = 100.0
	}
	if config.StepUpThresholdSmall < 0 || config.StepUpThresholdSmall > 1 {
		config.StepUpThresholdSmall = 0.10
	}
	if config.StepUpThresholdLarge < 0 || config.StepUpThresholdLarge > 1 {
		config.StepUpThresholdLarge = 0.30
	}

	return
}
