package main

import (
	"fmt"

	"github.com/Atharva-Kanherkar/sage/internal/mcptools"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var mcpSchedule bool

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the tracker to MCP clients over stdio",
	Long: `Serve sage as an MCP server on stdin/stdout so a tutoring client can read
the learning profile and record quiz answers.

Logs go to stderr; stdout carries the protocol.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpSchedule, "schedule", true, "run periodic analysis while serving")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// The daemon, if running, owns the socket and metrics port.
	cfg.Notify.Enabled = false
	cfg.Metrics.Addr = ""

	a, err := openAppWith(cfg, mcpSchedule)
	if err != nil {
		return err
	}
	defer a.Close()

	mcptools.Version = version
	s := mcptools.NewServer(a.tracker)

	a.logger.Info("serving MCP over stdio")
	if err := server.ServeStdio(s, server.WithErrorLogger(zap.NewStdLog(a.logger))); err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}
