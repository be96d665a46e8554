package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/lesson-video-pipeline/internal/server"
)

var (
	servePort       int
	serveMock       bool
	serveRunTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes REST endpoints for starting runs, re-rendering run folders and reading the run ledger.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from config, 8080)")
	serveCmd.Flags().BoolVar(&serveMock, "mock", false, "Use canned script and code generators instead of the LLM")
	serveCmd.Flags().DurationVar(&serveRunTimeout, "run-timeout", 30*time.Minute, "Upper bound for one pipeline run (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd.Flags(), globals)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}

	hub := server.NewProgressHub()
	a, err := newApp(context.Background(), cfg, appOptions{Mock: serveMock, OnProgress: hub.Publish})
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.New(server.Config{
		Port:       cfg.Port,
		Pipeline:   a.coordinator,
		Ledger:     a.reader,
		Hub:        hub,
		RunTimeout: serveRunTimeout,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}
