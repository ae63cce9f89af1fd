package main

import (
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/termgate/internal/infrastructure/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the gateway and its operator API.

Examples:
  # Defaults from the environment
  termgate serve

  # Override the listen port and backend
  termgate serve --port 9000 --backend-url http://10.0.0.5:5000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	servePort       string
	serveBackendURL string
	serveMode       string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "Operator HTTP port")
	serveCmd.Flags().StringVar(&serveBackendURL, "backend-url", "", "Execution backend base URL")
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "Initial execution mode (guided, direct)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Server.Port = servePort
	}
	if serveBackendURL != "" {
		cfg.Backend.URL = serveBackendURL
	}
	if serveMode != "" {
		cfg.Terminal.Mode = serveMode
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	return srv.Run(cmd.Context())
}
