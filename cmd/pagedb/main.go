// Package main provides the pagedb command, which inspects and maintains
// database files offline.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/pagedb/internal/config"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/engine"
)

func main() {
	exitCode := run(os.Args)
	os.Exit(exitCode)
}

// run executes the CLI and returns an exit code.
func run(args []string) int {
	return execute(args[1:], os.Stdout, os.Stderr)
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// app carries what every command needs.
type app struct {
	stdout io.Writer
	loader *config.Loader
	cfg    *config.Config
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, loader: config.NewLoader()}
	root := &cobra.Command{
		Use:   "pagedb",
		Short: "Inspect and maintain pagedb database files",
		Long: `pagedb opens a database file directly and reports on it or runs
maintenance. Settings come from --config, PAGEDB_* environment variables
and flags, in increasing priority.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loader.BindFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := a.loader.Load("")
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	config.AddFlags(root.PersistentFlags())

	root.AddCommand(
		newInfoCmd(a),
		newCollectionsCmd(a),
		newIndexesCmd(a),
		newCountCmd(a),
		newDumpCmd(a),
		newCheckpointCmd(a),
		newRebuildCmd(a),
		newUserVersionCmd(a),
		newStatsCmd(a),
		newVersionCmd(a),
	)
	return root
}

// withEngine opens the configured database, runs fn and closes it.
func (a *app) withEngine(fn func(e *engine.Engine) error) (err error) {
	s, logs, err := a.cfg.Settings()
	if err != nil {
		return err
	}
	defer logs.Close()
	e, err := engine.Open(s)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(e)
}
