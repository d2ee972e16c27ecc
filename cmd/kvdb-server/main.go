// Command kvdb-server is the process entrypoint: parse flags, load the
// config file, build and run a server.Server until a termination signal
// asks for a graceful shutdown. Grounded on the teacher's cmd/server/main.go
// lifecycle (flags -> Config -> construct -> start -> signal-driven
// shutdown), using cobra/pflag instead of the teacher's stdlib flag.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kvdb/internal/server"
)

func main() {
	var (
		configPath string
		host       string
		port       int
		logLevel   string
	)

	root := &cobra.Command{
		Use:   "kvdb-server",
		Short: "Run the key-value store server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			log, err := server.NewLogger(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("kvdb-server: logger: %w", err)
			}
			defer log.Sync()

			srv, err := server.New(cfg, log)
			if err != nil {
				return fmt.Errorf("kvdb-server: %w", err)
			}
			if err := srv.Listen(); err != nil {
				return fmt.Errorf("kvdb-server: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				log.Info("shutting down")
				srv.Stop()
			}()

			runErr := srv.Run()
			if closeErr := srv.Close(); closeErr != nil && runErr == nil {
				runErr = closeErr
			}
			return runErr
		},
	}

	flags := root.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&host, "host", "", "override the configured bind host")
	flags.IntVar(&port, "port", 0, "override the configured bind port")
	flags.StringVar(&logLevel, "log-level", "", "override the configured log level")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
