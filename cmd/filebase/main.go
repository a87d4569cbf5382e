// Command filebase checks route trees and serves trees of files.
//
// Applications with remote functions build their own binary with
// pkg/cli so that their functions are linked in.
package main

import (
	"os"

	"github.com/filebase-dev/filebase/pkg/cli"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(cli.Execute(cli.BuildInfo{
		Name:    "filebase",
		Version: version,
		Commit:  commit,
		Date:    date,
	}))
}
