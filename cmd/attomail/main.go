// Command attomail is a sendmail-compatible local delivery agent. It reads
// one message on stdin and commits it to the Maildir named in its
// configuration file, running as the Maildir's owner.
//
// The configuration path is fixed at build time:
//
//	go build -ldflags "-X main.configPath=/etc/attomail.toml" ./cmd/attomail
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
		Programs:   cli.DeliveryPrograms,
		ConfigPath: configPath,
		Version:    version,
	}))
}
