// Command attomail-inspect runs the attomail pipeline without dropping
// privileges or touching the Maildir, and writes the message as it would
// have been delivered to stdout.
package main

import (
	"context"
	"os"

	"github.com/infodancer/attomail/internal/cli"
)

var (
	configPath = "/etc/attomail.toml"
	version    = "dev"
)

func main() {
	os.Exit(cli.Run(context.Background(), os.Args, cli.Options{
		Programs:   cli.InspectPrograms,
		ConfigPath: configPath,
		Version:    version,
		Inspect:    true,
	}))
}
