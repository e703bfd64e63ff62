package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/dafibh/deskflow/deskflow-backend/internal/idempotency"
	"github.com/dafibh/deskflow/deskflow-backend/internal/repository/postgres"
	"github.com/dafibh/deskflow/deskflow-backend/internal/saga"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Connection is an open store
type Connection struct {
	Gateway domain.ResourceGateway
	// Pool is nil for in-memory stores
	Pool  *pgxpool.Pool
	Close func()
}

// Connector opens the store a command works against
type Connector func(ctx context.Context) (*Connection, error)

type Globals struct {
	Debug   bool
	Version string
	Connect Connector
	Out     io.Writer
}

// PostgresConnector connects to the database at url
func PostgresConnector(url string) Connector {
	return func(ctx context.Context) (*Connection, error) {
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			ConnString: url,
			MaxConns:   4,
			MinConns:   1,
		})
		if err != nil {
			return nil, err
		}
		return &Connection{
			Gateway: postgres.NewGateway(pool),
			Pool:    pool,
			Close:   pool.Close,
		}, nil
	}
}

// newEngine returns an engine tuned for one-off operator runs, which can
// afford to wait longer on compensations than a request handler
func newEngine() *saga.Engine {
	return saga.NewEngine(log.Logger, saga.Config{
		StepTimeout:       30 * time.Second,
		CompensationTries: 10,
		RetryInterval:     500 * time.Millisecond,
	})
}

func newGuard() *idempotency.Guard {
	return idempotency.NewGuard(log.Logger, idempotency.DefaultConfig(), nil)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
