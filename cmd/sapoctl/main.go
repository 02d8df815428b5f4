// Command sapoctl manages a sapo ledger from the shell and sends control
// messages to a running gateway.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"

	"sapo/internal/cli"
)

func main() {
	cli.LoadEnvFile()

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	a := newApp(os.Stdout)
	a.register(commander)

	flag.Parse()
	status := commander.Execute(context.Background())
	a.close()
	os.Exit(int(status))
}
