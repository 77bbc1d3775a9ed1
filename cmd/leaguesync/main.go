package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/wolfeidau/leaguesync/cmd/leaguesync/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		commands.Globals `embed:""`

		Token   commands.TokenCmd  `cmd:"" help:"Mint and print a bearer token for the session"`
		List    commands.ListCmd   `cmd:"" help:"Pull one page of a table"`
		Watch   commands.WatchCmd  `cmd:"" help:"Pull a table and print it again on every pushed change"`
		Save    commands.SaveCmd   `cmd:"" help:"Create or update a record"`
		Remove  commands.RemoveCmd `cmd:"" help:"Delete a record"`
		Version kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("leaguesync"),
		kong.Description("Authenticated live views over the league data API."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))

	cli.Globals.Version = version
	err := cmd.Run(&cli.Globals)
	cmd.FatalIfErrorf(err)
}
