// Package cli implements the filebase command line.
//
// Remote functions are compiled into the binary that serves them, so an
// application builds its own command by importing its route packages and
// calling Execute:
//
//	package main
//
//	import (
//	    "os"
//
//	    "github.com/filebase-dev/filebase/pkg/cli"
//	    _ "example.com/app/public"
//	)
//
//	func main() { os.Exit(cli.Execute(cli.BuildInfo{Name: "app"})) }
//
// The stock cmd/filebase binary links no remote functions; it checks
// route trees and serves trees that only hold files.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/filebase-dev/filebase/internal/config"
	"github.com/filebase-dev/filebase/internal/errors"
	"github.com/filebase-dev/filebase/internal/logging"
	"github.com/filebase-dev/filebase/pkg/server"
)

// BuildInfo identifies the binary.
type BuildInfo struct {
	Name    string
	Version string
	Commit  string
	Date    string
}

func (b BuildInfo) withDefaults() BuildInfo {
	if b.Name == "" {
		b.Name = "filebase"
	}
	if b.Version == "" {
		b.Version = "dev"
	}
	if b.Commit == "" {
		b.Commit = "none"
	}
	if b.Date == "" {
		b.Date = "unknown"
	}
	return b
}

// Option adjusts the server configuration after it is loaded. It sets
// what files and flags cannot express, such as an Authorizer.
type Option func(*server.Config)

// app carries the state shared by the commands of one invocation.
type app struct {
	info       BuildInfo
	viper      *viper.Viper
	configFile string
	options    []Option
}

// NewCommand builds the root command.
func NewCommand(info BuildInfo, opts ...Option) *cobra.Command {
	a := &app{info: info.withDefaults(), viper: config.NewViper(), options: opts}

	root := &cobra.Command{
		Use:   a.info.Name,
		Short: "Serve a directory of Go functions as a web API",
		Long: `filebase turns a directory tree into a web API.

Functions marked //filebase:remote in *.code.go files are callable at a
URL derived from their directory and name; every other file is served as
a static asset or an HTML template.

Configuration is read from filebase.yaml, FILEBASE_* environment
variables and flags, in increasing priority.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "configuration file (default ./filebase.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")
	_ = a.viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.viper.BindPFlag("log.format", flags.Lookup("log-format"))

	root.AddCommand(
		serveCmd(a),
		checkCmd(a),
		versionCmd(a),
	)
	return root
}

// Execute runs the command line with os.Args and returns the exit code.
func Execute(info BuildInfo, opts ...Option) int {
	cmd := NewCommand(info, opts...)
	if !isTerminal(os.Stderr) {
		errors.DisableColors()
	}
	if err := cmd.Execute(); err != nil {
		errors.Print(cmd.ErrOrStderr(), err)
		return 1
	}
	return 0
}

// load reads the configuration, applying root when it is not empty. A
// root given on the command line is relative to the working directory,
// not to the config file.
func (a *app) load(root string) (*config.Config, error) {
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, errors.New("F101").Wrap(err)
		}
		a.viper.Set("root", abs)
	}
	return config.LoadViper(a.viper, a.configFile)
}

// serverConfig converts cfg and applies the options.
func (a *app) serverConfig(cfg *config.Config, logger *slog.Logger) *server.Config {
	c := cfg.ServerConfig(logger)
	for _, opt := range a.options {
		opt(c)
	}
	return c
}

func (a *app) logger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, w)
	if err != nil {
		return nil, errors.New("F101").Wrap(err)
	}
	return logger, nil
}

func rootArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func checkRoot(cfg *config.Config) error {
	if !cfg.RootExists() {
		return errors.New("F101").WithDetail(fmt.Sprintf("root %s is not a directory", cfg.Root))
	}
	return nil
}

// isTerminal reports whether w is a character device.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
