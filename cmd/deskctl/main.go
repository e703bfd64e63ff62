package main

import (
	"context"
	"os"

	"github.com/alecthomas/kong"
	"github.com/dafibh/deskflow/deskflow-backend/cmd/deskctl/internal/commands"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	version = "dev"
	cli     struct {
		Migrate   commands.MigrateCmd   `cmd:"" help:"Apply pending database migrations"`
		Provision commands.ProvisionCmd `cmd:"" help:"Provision a workspace for an existing user"`
		Reconcile commands.ReconcileCmd `cmd:"" help:"Delete every row of a workspace left behind by an unclean rollback"`
		SeedUser  commands.SeedUserCmd  `cmd:"" name:"seed-user" help:"Create a user row for local development"`

		DatabaseURL string `help:"PostgreSQL connection string" env:"DATABASE_URL" required:""`
		Debug       bool   `help:"Enable debug mode."`
		Version     kong.VersionFlag
	}
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// DATABASE_URL may come from the same .env file the API reads
	_ = godotenv.Load()

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("deskctl"),
		kong.Description("Operator tooling for deskflow workspaces."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))

	if cli.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	err := cmd.Run(&commands.Globals{
		Debug:   cli.Debug,
		Version: version,
		Connect: commands.PostgresConnector(cli.DatabaseURL),
		Out:     os.Stdout,
	})
	cmd.FatalIfErrorf(err)
}
