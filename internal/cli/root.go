// Package cli implements the nssync command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hnrobert/nssync/internal/config"
	"github.com/hnrobert/nssync/internal/logger"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	logger.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}

type globals struct {
	configPath string
	verbose    bool
	outDir     string
	db         string
	input      string
	lockFile   string

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:           "nssync",
		Short:         "Sync directory users and groups into extrausers NSS files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", os.Getenv("NSSYNC_CONFIG"), "Config file (YAML)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "Debug logging")
	pf.StringVar(&g.outDir, "outdir", "", "Output directory for passwd, group and shadow")
	pf.StringVar(&g.db, "db", "", "State database path")
	pf.StringVar(&g.input, "input", "", "Read the directory from this YAML/JSON export instead of the API")
	pf.StringVar(&g.lockFile, "lock-file", "", "Pass lock file")

	rootCmd.AddCommand(newSyncCmd(g))
	rootCmd.AddCommand(newDaemonCmd(g))
	rootCmd.AddCommand(newIdentitiesCmd(g))
	rootCmd.AddCommand(newVerifyCmd(g))
	rootCmd.AddCommand(newAutogenCmd(g))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// load resolves configuration with precedence flag > env > file > default.
func (g *globals) load(cmd *cobra.Command) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("outdir") {
		cfg.OutDir = g.outDir
	}
	if flags.Changed("db") {
		cfg.DB = g.db
	}
	if flags.Changed("lock-file") {
		cfg.LockFile = g.lockFile
	}
	if flags.Changed("input") {
		cfg.Source.Kind = config.SourceFile
		cfg.Source.File = g.input
	}
	if flags.Changed("verbose") {
		cfg.Verbose = g.verbose
	}
	g.cfg = cfg

	logger.SetVerbose(cfg.Verbose)
	return logger.Init(cfg.LogDir)
}
