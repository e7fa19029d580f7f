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
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	heddleconfig "github.com/teradata-labs/heddle/pkg/config"

	"github.com/teradata-labs/heddle/internal/version"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "heddled",
	Short:   "Heddle Server - Multi-tenant conversational agent runtime",
	Long:    `Heddle Server (heddled) mediates conversations between users, LLM providers, and MCP tool servers, with per-profile knowledge graphs and consumption accounting.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HEDDLE_DATA_DIR/heddled.yaml)")

	// Server flags
	rootCmd.PersistentFlags().String("host", "0.0.0.0", "HTTP server host")
	rootCmd.PersistentFlags().Int("http-port", 5106, "HTTP/REST+SSE server port")

	// LLM flags (classification provider; per-profile providers come from
	// each profile's LLM config)
	rootCmd.PersistentFlags().String("llm-provider", "anthropic", "classification LLM provider (anthropic, openai, azure, gemini, bedrock, ollama, friendli)")
	rootCmd.PersistentFlags().String("llm-model", "claude-sonnet-4-5-20250929", "classification LLM model")
	rootCmd.PersistentFlags().String("llm-api-key", "", "classification LLM API key (or use env)")

	// Database flags
	// GetDataDir respects the HEDDLE_DATA_DIR environment variable
	rootCmd.PersistentFlags().String("data-dir", heddleconfig.GetDataDir(), "data directory for databases and sessions")
	rootCmd.PersistentFlags().String("db-key", "", "encryption key for the credential store (or set HEDDLE_DB_KEY)")

	// Executor flags
	rootCmd.PersistentFlags().Int("max-iterations", 5, "maximum agent loop iterations per turn")
	rootCmd.PersistentFlags().Bool("exact-tokens", false, "count context tokens with tiktoken instead of the character ratio")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("server.host", rootCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("server.http_port", rootCmd.PersistentFlags().Lookup("http-port"))

	_ = viper.BindPFlag("llm.provider", rootCmd.PersistentFlags().Lookup("llm-provider"))
	_ = viper.BindPFlag("llm.model", rootCmd.PersistentFlags().Lookup("llm-model"))
	_ = viper.BindPFlag("llm.api_key", rootCmd.PersistentFlags().Lookup("llm-api-key"))

	_ = viper.BindPFlag("database.data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("database.key", rootCmd.PersistentFlags().Lookup("db-key"))

	_ = viper.BindPFlag("executor.max_iterations", rootCmd.PersistentFlags().Lookup("max-iterations"))
	_ = viper.BindPFlag("executor.exact_tokens", rootCmd.PersistentFlags().Lookup("exact-tokens"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
