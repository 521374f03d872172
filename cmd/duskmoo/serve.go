package main

import (
	"os"
	"strings"

	"duskmoo/log"
	"duskmoo/server"
	"duskmoo/trace"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load a database and start accepting connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("db")
		port, _ := cmd.Flags().GetInt("port")
		checkpointInterval, _ := cmd.Flags().GetInt("checkpoint-interval")
		traceEnabled, _ := cmd.Flags().GetBool("trace")
		traceFilter, _ := cmd.Flags().GetString("trace-filter")
		logLevel, _ := cmd.Flags().GetString("log-level")
		logJSON, _ := cmd.Flags().GetBool("log-json")

		log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

		if traceEnabled {
			var filters []string
			if traceFilter != "" {
				filters = strings.Split(traceFilter, ",")
				for i := range filters {
					filters[i] = strings.TrimSpace(filters[i])
				}
			}
			trace.Init(true, filters, os.Stderr)
			log.Infof("Tracing enabled (filters: %v)", filters)
		} else {
			trace.Init(false, nil, nil)
		}

		srv, err := server.NewServer(dbPath, port, checkpointInterval)
		if err != nil {
			return err
		}

		if err := srv.LoadDatabase(); err != nil {
			return err
		}

		log.Infof("Starting server on port %d (db=%s)", port, dbPath)
		return srv.Start()
	},
}

func init() {
	serveCmd.Flags().String("db", "Test.db", "Database file path")
	serveCmd.Flags().Int("port", 7777, "Listen port")
	serveCmd.Flags().Int("checkpoint-interval", 300, "Seconds between automatic checkpoints (0 disables)")
	serveCmd.Flags().Bool("trace", false, "Enable execution tracing")
	serveCmd.Flags().String("trace-filter", "", "Trace filter pattern (glob, e.g., 'do_*' or 'user_*')")
	serveCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
}
