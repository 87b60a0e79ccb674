// Package main is the program entrance.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/secureboot-tools/modsign/src/cmd/mok_module_signer/internal/commands"
)

func main() {
	// Always log to stderr for easy debugging.
	flag.Set("alsologtostderr", "true")
	flag.Parse()

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&commands.InstallCommand{}, "")
	subcommands.Register(&commands.ResignCommand{}, "")
	subcommands.Register(&commands.ListCommand{}, "")

	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
