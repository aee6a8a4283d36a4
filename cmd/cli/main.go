package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Demedah/Appsjiabao/internal/commander"
	"github.com/Demedah/Appsjiabao/internal/config"
	"github.com/Demedah/Appsjiabao/internal/logging"
)

func main() {
	configFile := flag.String("config", "config/config.yaml", "Path to configuration file")
	logFile := flag.String("log-file", "logs/cli.log", "Where to write structured logs")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *logFile != "" {
		cfg.Logging.File = *logFile
	}

	// The session owns stdout, so the logger only writes to the rotated file.
	logger, err := logging.NewLogger(logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File, FileOnly: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	cmd := commander.NewCommander(cfg, logger)
	cmd.Start()
}
