package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
)

type SeedUserCmd struct {
	Auth0ID string `name:"auth0-id" help:"Auth0 subject of the user" required:""`
	Email   string `help:"Email address" required:""`
}

func (s *SeedUserCmd) Run(ctx context.Context, globals *Globals) error {
	conn, err := globals.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	id, err := conn.Gateway.Insert(ctx, domain.KindUser, domain.Fields{
		"auth0_id": strings.TrimSpace(s.Auth0ID),
		"email":    strings.ToLower(strings.TrimSpace(s.Email)),
	})
	if errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("user %q already exists", s.Auth0ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Fprintf(globals.Out, "Created user %s\n", id)
	return nil
}
