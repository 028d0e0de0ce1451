// Package cli implements the dishsync command-line interface for the
// device-local collections.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Keksclan/dishsync"
	"github.com/Keksclan/dishsync/config"
)

// app carries state shared by every subcommand of one invocation.
type app struct {
	client *dishsync.Client
	out    io.Writer
	raw    bool

	backend    string
	sqlitePath string
	redisAddr  string
	verbose    bool
}

// Execute runs the CLI with the process arguments and exits non-zero on
// failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := Run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// Run executes one CLI invocation writing command output to out.
func Run(ctx context.Context, args []string, out io.Writer) error {
	a := &app{out: out}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	err := root.ExecuteContext(ctx)
	if a.client != nil {
		if cerr := a.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dishsync",
		Short:         "dishsync – manage the local grocery list and cooking progress",
		Long:          "Operates the device-local collections of the dishlist app against a durable store.\nConfiguration comes from DISHSYNC_* environment variables; flags override them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.backend, "store", "", "Store backend: memory, sqlite or redis (env DISHSYNC_STORE)")
	pf.StringVar(&a.sqlitePath, "sqlite-path", "", "SQLite database file (env DISHSYNC_SQLITE_PATH)")
	pf.StringVar(&a.redisAddr, "redis-addr", "", "Redis address (env DISHSYNC_REDIS_ADDR)")
	pf.BoolVar(&a.raw, "raw", false, "Emit raw JSON instead of text")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Debug logging to stderr")

	root.AddCommand(a.groceryCmd(), a.progressCmd())
	return root
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Backend = a.backend
	}
	if flags.Changed("sqlite-path") {
		cfg.SQLitePath = a.sqlitePath
	}
	if flags.Changed("redis-addr") {
		cfg.RedisAddr = a.redisAddr
	}
	if a.verbose {
		cfg.LogLevel = "debug"
	}
	a.client, err = dishsync.FromConfig(cmd.Context(), cfg)
	return err
}

// emit writes v as indented JSON with --raw, otherwise calls text.
func (a *app) emit(v any, text func(io.Writer)) error {
	if a.raw {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}
