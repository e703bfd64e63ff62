package commands

import (
	"context"
	"fmt"

	"github.com/dafibh/deskflow/deskflow-backend/internal/service"
)

type ProvisionCmd struct {
	Name  string `help:"Workspace name" required:""`
	Owner string `help:"Auth0 ID of the owning user" required:""`
	Key   string `help:"Request key; rerunning with the same key returns the existing workspace" default:""`
}

func (p *ProvisionCmd) Run(ctx context.Context, globals *Globals) error {
	conn, err := globals.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	owner, err := service.NewUserService(conn.Gateway).GetUserByAuth0ID(ctx, p.Owner)
	if err != nil {
		return fmt.Errorf("failed to find owner %q: %w", p.Owner, err)
	}

	guard := newGuard()
	defer guard.Stop()

	svc, err := service.NewProvisioningService(conn.Gateway, newEngine(), guard)
	if err != nil {
		return err
	}

	result, err := svc.ProvisionWorkspace(ctx, p.Name, owner.ID, p.Key)
	if err != nil {
		return fmt.Errorf("failed to provision workspace: %w", err)
	}
	return printJSON(globals.Out, result)
}
