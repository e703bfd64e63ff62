package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/dafibh/deskflow/deskflow-backend/internal/repository/postgres"
)

type MigrateCmd struct{}

func (m *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	conn, err := globals.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if conn.Pool == nil {
		return errors.New("migrations need a PostgreSQL connection")
	}
	if err := postgres.RunMigrations(ctx, conn.Pool); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	fmt.Fprintln(globals.Out, "Migrations applied")
	return nil
}
