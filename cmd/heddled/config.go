// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"

	"github.com/spf13/viper"
	heddleconfig "github.com/teradata-labs/heddle/pkg/config"
)

// DefaultConfigFileName is the name of the config file
const DefaultConfigFileName = "heddled"

// Config holds all configuration for the Heddle server.
// Priority: CLI flags > config file > env vars > defaults
type Config struct {
	// DataDir is the Heddle data directory (computed from HEDDLE_DATA_DIR or
	// ~/.heddle). Set during config initialization; not loaded from the
	// config file.
	DataDir string `mapstructure:"-"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// LLM configuration for the capability classification provider
	LLM LLMConfig `mapstructure:"llm"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Executor configuration
	Executor ExecutorConfig `mapstructure:"executor"`

	// Consumption configuration
	Consumption ConsumptionConfig `mapstructure:"consumption"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	HTTPPort int    `mapstructure:"http_port"`
}

// LLMConfig holds the classification provider configuration. Conversations
// use each profile's own LLM config; this provider only categorizes MCP
// server capabilities during activation.
type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`

	// Extra credential fields for providers that need more than a key
	// (bedrock region, azure endpoint, ollama host).
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	DeploymentName string `mapstructure:"deployment_name"`
	Host           string `mapstructure:"host"`
}

// DatabaseConfig holds storage configuration.
type DatabaseConfig struct {
	// DataDir overrides the data directory (normally from HEDDLE_DATA_DIR).
	DataDir string `mapstructure:"data_dir"`

	// Key unlocks the encrypted credential store. Falls back to HEDDLE_DB_KEY.
	// When absent the credential store is disabled and profiles must carry
	// inline credentials.
	Key string `mapstructure:"key"`
}

// ExecutorConfig holds agent loop configuration.
type ExecutorConfig struct {
	MaxIterations int `mapstructure:"max_iterations"`

	// ExactTokens switches context budgeting from the character-ratio
	// estimator to tiktoken counting.
	ExactTokens bool `mapstructure:"exact_tokens"`
}

// ConsumptionConfig holds rate and quota accounting configuration.
type ConsumptionConfig struct {
	// RolloverSchedule is the cron spec for the monthly rollover sweep.
	RolloverSchedule string `mapstructure:"rollover_schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file, environment, and flags.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config search paths (in order of priority)
		viper.AddConfigPath(heddleconfig.GetDataDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/heddle/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; using defaults + env vars + flags
	}

	viper.SetEnvPrefix("HEDDLE")
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Database.DataDir != "" {
		config.DataDir = config.Database.DataDir
	} else {
		config.DataDir = heddleconfig.GetDataDir()
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.http_port", 5106)

	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.model", "claude-sonnet-4-5-20250929")

	viper.SetDefault("executor.max_iterations", 5)

	// First day of each month, shortly after midnight
	viper.SetDefault("consumption.rollover_schedule", "5 0 1 * *")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}
