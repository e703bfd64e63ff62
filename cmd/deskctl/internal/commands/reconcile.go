package commands

import (
	"context"
	"fmt"
	"slices"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/dafibh/deskflow/deskflow-backend/internal/service"
	"github.com/google/uuid"
)

type ReconcileCmd struct {
	Workspace string `help:"ID of the workspace to remove" required:""`
	Yes       bool   `help:"Confirm deletion" short:"y"`
}

func (r *ReconcileCmd) Run(ctx context.Context, globals *Globals) error {
	workspaceID, err := uuid.Parse(r.Workspace)
	if err != nil {
		return fmt.Errorf("invalid workspace ID %q: %w", r.Workspace, err)
	}
	if !r.Yes {
		return fmt.Errorf("refusing to delete workspace %s without --yes", workspaceID)
	}

	conn, err := globals.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	purged, err := service.NewWorkspaceService(conn.Gateway).PurgeWorkspace(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to reconcile workspace: %w", err)
	}

	fmt.Fprintf(globals.Out, "Removed %d rows from workspace %s\n", purged.Total(), workspaceID)
	for _, kind := range sortedKinds(purged) {
		fmt.Fprintf(globals.Out, "  %-22s %d\n", kind, purged[kind])
	}
	return nil
}

func sortedKinds(purged service.PurgeResult) []domain.Kind {
	kinds := make([]domain.Kind, 0, len(purged))
	for kind, n := range purged {
		if n > 0 {
			kinds = append(kinds, kind)
		}
	}
	slices.Sort(kinds)
	return kinds
}
