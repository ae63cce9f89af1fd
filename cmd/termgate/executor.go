package main

import (
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/termgate/internal/infrastructure/server"
)

var executorCmd = &cobra.Command{
	Use:   "executor",
	Short: "Run the reference execution backend",
	Long: `Run the reference execution backend.

It loads tool definitions (YAML or TOML) from the catalog directory,
reloads them when they change, and runs tools and shells on local PTYs.

Examples:
  termgate executor --catalog ./tools --port 5000
  termgate executor --shell /bin/zsh --package-manager dnf`,
	Args: cobra.NoArgs,
	RunE: runExecutor,
}

var (
	executorPort           string
	executorCatalog        string
	executorShell          string
	executorPackageManager string
)

func init() {
	rootCmd.AddCommand(executorCmd)

	executorCmd.Flags().StringVarP(&executorPort, "port", "p", "", "Backend HTTP port")
	executorCmd.Flags().StringVar(&executorCatalog, "catalog", "", "Tool catalog directory")
	executorCmd.Flags().StringVar(&executorShell, "shell", "", "Shell started for each session")
	executorCmd.Flags().StringVar(&executorPackageManager, "package-manager", "", "Package manager for install, remove and update")
}

func runExecutor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if executorPort != "" {
		cfg.Executor.Port = executorPort
	}
	if executorCatalog != "" {
		cfg.Executor.Catalog = executorCatalog
	}
	if executorShell != "" {
		cfg.Executor.Shell = executorShell
	}
	if executorPackageManager != "" {
		cfg.Executor.PackageManager = executorPackageManager
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ex, err := server.NewExecutor(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer ex.Close()

	return ex.Run(cmd.Context())
}
