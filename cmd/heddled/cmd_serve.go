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
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/consumption"
	"github.com/teradata-labs/heddle/pkg/contextwindow"
	"github.com/teradata-labs/heddle/pkg/executor"
	"github.com/teradata-labs/heddle/pkg/knowledge"
	"github.com/teradata-labs/heddle/pkg/llm"
	"github.com/teradata-labs/heddle/pkg/mcp"
	"github.com/teradata-labs/heddle/pkg/orchestrator"
	"github.com/teradata-labs/heddle/pkg/profile"
	"github.com/teradata-labs/heddle/pkg/server"
	"github.com/teradata-labs/heddle/pkg/session"
	"github.com/teradata-labs/heddle/pkg/tokens"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Heddle HTTP server",
	Long: `Start the Heddle Server with REST and SSE APIs.

The server will:
- Open the profile, consumption, and knowledge graph databases
- Set up file-backed session persistence
- Stream conversation turns over SSE
- Sweep monthly consumption rollovers on a cron schedule

Press Ctrl+C to gracefully shutdown.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	if err := log.Init(config.Logging.Level, config.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	dataDir := config.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatal("create data directory", zap.String("dir", dataDir), zap.Error(err))
	}
	log.Info("starting heddled", zap.String("data_dir", dataDir))

	consumptionStore, err := consumption.NewStore(filepath.Join(dataDir, "consumption.db"))
	if err != nil {
		log.Fatal("open consumption store", zap.Error(err))
	}
	defer func() { _ = consumptionStore.Close() }()

	sessions, err := session.NewStore(filepath.Join(dataDir, "sessions"))
	if err != nil {
		log.Fatal("open session store", zap.Error(err))
	}

	profiles, err := profile.NewStore(filepath.Join(dataDir, "profiles.db"))
	if err != nil {
		log.Fatal("open profile store", zap.Error(err))
	}
	defer func() { _ = profiles.Close() }()

	// The encrypted credential store needs a key. Without one, profiles fall
	// back to inline or environment credentials.
	var creds *profile.CredentialStore
	if config.Database.Key != "" || os.Getenv("HEDDLE_DB_KEY") != "" {
		creds, err = profile.NewCredentialStore(filepath.Join(dataDir, "credentials.db"), config.Database.Key)
		if err != nil {
			log.Fatal("open credential store", zap.Error(err))
		}
		defer func() { _ = creds.Close() }()
	} else {
		log.Warn("credential store disabled: no encryption key configured")
	}

	kg, err := knowledge.NewStore(filepath.Join(dataDir, "knowledge.db"))
	if err != nil {
		log.Fatal("open knowledge graph store", zap.Error(err))
	}
	defer func() { _ = kg.Close() }()

	llmFactory := llm.NewFactory()
	mcpFactory := mcp.NewFactory()
	classifier := newLazyClassifier(llmFactory, config.LLM)
	switcher := profile.NewSwitcher(profiles, creds, llmFactory, mcpFactory, classifier)

	est := tokens.NewEstimator()
	if config.Executor.ExactTokens {
		est = tokens.NewExactEstimator()
	}
	assembler := contextwindow.NewAssembler(est, contextwindow.DefaultModules(est)...)
	exec := executor.New(config.Executor.MaxIterations)

	orch := orchestrator.New(orchestrator.Deps{
		Consumption: consumptionStore,
		Sessions:    sessions,
		Switcher:    switcher,
		Assembler:   assembler,
		Executor:    exec,
		Knowledge:   kg,
		Estimator:   est,
	})

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.HTTPPort)
	srv := server.New(addr, server.Deps{
		Orchestrator: orch,
		Switcher:     switcher,
		Profiles:     profiles,
		Consumption:  consumptionStore,
		Knowledge:    kg,
		Sessions:     sessions,
	})

	sweeper := cron.New()
	_, err = sweeper.AddFunc(config.Consumption.RolloverSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := consumptionStore.SweepRollovers(ctx); err != nil {
			log.Warn("consumption rollover sweep", zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("invalid rollover schedule",
			zap.String("schedule", config.Consumption.RolloverSchedule), zap.Error(err))
	}
	sweeper.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	<-sweeper.Stop().Done()
	log.Info("heddled stopped")
}
