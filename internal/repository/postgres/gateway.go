package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/dafibh/deskflow/deskflow-backend/internal/telemetry"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dafibh/deskflow/deskflow-backend/internal/repository/postgres"

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Gateway implements domain.ResourceGateway on PostgreSQL. Kinds map to tables
// of the same name.
type Gateway struct {
	pool    *pgxpool.Pool
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// NewGateway creates a new Gateway
func NewGateway(pool *pgxpool.Pool) *Gateway {
	return &Gateway{
		pool:    pool,
		metrics: telemetry.GetMetrics(),
		tracer:  otel.Tracer(tracerName),
	}
}

var _ domain.ResourceGateway = (*Gateway)(nil)

// Insert adds one row and returns its generated id
func (g *Gateway) Insert(ctx context.Context, kind domain.Kind, fields domain.Fields) (id uuid.UUID, err error) {
	ctx, done := g.observe(ctx, "insert", kind)
	defer func() { done(err) }()

	sql, args, err := insertSQL(kind, fields)
	if err != nil {
		return uuid.Nil, err
	}
	return insertRow(ctx, g.pool, sql, args)
}

// InsertMany adds all rows in one transaction. Ids are returned in input order.
func (g *Gateway) InsertMany(ctx context.Context, kind domain.Kind, rows []domain.Fields) (ids []uuid.UUID, err error) {
	ctx, done := g.observe(ctx, "insert_many", kind)
	defer func() { done(err) }()

	if len(rows) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, fields := range rows {
		sql, args, err := insertSQL(kind, fields)
		if err != nil {
			return nil, err
		}
		batch.Queue(sql, args...)
	}

	err = pgx.BeginFunc(ctx, g.pool, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		defer results.Close()

		ids = make([]uuid.UUID, 0, len(rows))
		for range rows {
			var pgID pgtype.UUID
			if err := results.QueryRow().Scan(&pgID); err != nil {
				return mapPostgresError(err)
			}
			ids = append(ids, uuid.UUID(pgID.Bytes))
		}
		return results.Close()
	})
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return ids, nil
}

// Get returns the oldest row matching filter
func (g *Gateway) Get(ctx context.Context, kind domain.Kind, filter domain.Fields) (row domain.Row, err error) {
	ctx, done := g.observe(ctx, "get", kind)
	defer func() { done(err) }()

	rows, err := g.query(ctx, kind, filter, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	return rows[0], nil
}

// Query returns every row matching filter, oldest first
func (g *Gateway) Query(ctx context.Context, kind domain.Kind, filter domain.Fields) (rows []domain.Row, err error) {
	ctx, done := g.observe(ctx, "query", kind)
	defer func() { done(err) }()

	return g.query(ctx, kind, filter, 0)
}

// Delete removes the row with the given id
func (g *Gateway) Delete(ctx context.Context, kind domain.Kind, id uuid.UUID) (err error) {
	ctx, done := g.observe(ctx, "delete", kind)
	defer func() { done(err) }()

	if err := checkKind(kind); err != nil {
		return err
	}

	sql := fmt.Sprintf("DELETE FROM %s WHERE id = $1", pgx.Identifier{string(kind)}.Sanitize())
	tag, err := g.pool.Exec(ctx, sql, toArg(id))
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (g *Gateway) query(ctx context.Context, kind domain.Kind, filter domain.Fields, limit int) ([]domain.Row, error) {
	sql, args, err := selectSQL(kind, filter, limit)
	if err != nil {
		return nil, err
	}

	pgRows, err := g.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	maps, err := pgx.CollectRows(pgRows, pgx.RowToMap)
	if err != nil {
		return nil, mapPostgresError(err)
	}

	rows := make([]domain.Row, len(maps))
	for i, m := range maps {
		rows[i] = toRow(m)
	}
	return rows, nil
}

// observe starts a span and returns the function that ends it and records metrics
func (g *Gateway) observe(ctx context.Context, op string, kind domain.Kind) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{
		attribute.String("gateway.op", op),
		attribute.String("gateway.kind", string(kind)),
	}
	ctx, span := g.tracer.Start(ctx, "gateway."+op, trace.WithAttributes(attrs...))
	start := time.Now()

	return ctx, func(err error) {
		defer span.End()
		g.metrics.GatewayCallDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
		// NotFound is an answer, not a failure.
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			g.metrics.GatewayErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
	}
}

func insertRow(ctx context.Context, db DBTX, sql string, args []any) (uuid.UUID, error) {
	var pgID pgtype.UUID
	if err := db.QueryRow(ctx, sql, args...).Scan(&pgID); err != nil {
		return uuid.Nil, mapPostgresError(err)
	}
	return uuid.UUID(pgID.Bytes), nil
}

// insertSQL builds an INSERT ... RETURNING id with columns in sorted order
func insertSQL(kind domain.Kind, fields domain.Fields) (string, []any, error) {
	if err := checkKind(kind); err != nil {
		return "", nil, err
	}
	table := pgx.Identifier{string(kind)}.Sanitize()
	if len(fields) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING id", table), nil, nil
	}

	cols := sortedKeys(fields)
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		if err := checkColumn(kind, col, false); err != nil {
			return "", nil, err
		}
		names[i] = pgx.Identifier{col}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = toArg(fields[col])
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
	return sql, args, nil
}

// selectSQL builds an equality filter. A nil value matches NULL.
func selectSQL(kind domain.Kind, filter domain.Fields, limit int) (string, []any, error) {
	if err := checkKind(kind); err != nil {
		return "", nil, err
	}

	var (
		conds []string
		args  []any
	)
	for _, col := range sortedKeys(filter) {
		if err := checkColumn(kind, col, true); err != nil {
			return "", nil, err
		}
		name := pgx.Identifier{col}.Sanitize()
		v := toArg(filter[col])
		if v == nil {
			conds = append(conds, name+" IS NULL")
			continue
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", name, len(args)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", pgx.Identifier{string(kind)}.Sanitize())
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at, id")
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String(), args, nil
}

// toArg converts domain values into types pgx encodes natively
func toArg(v any) any {
	switch t := v.(type) {
	case uuid.UUID:
		return pgtype.UUID{Bytes: t, Valid: true}
	case *uuid.UUID:
		if t == nil {
			return nil
		}
		return pgtype.UUID{Bytes: *t, Valid: true}
	case *string:
		if t == nil {
			return nil
		}
		return *t
	default:
		return v
	}
}

// toRow converts scanned uuid columns to uuid.UUID
func toRow(m map[string]any) domain.Row {
	row := make(domain.Row, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case [16]byte:
			row[k] = uuid.UUID(t)
		default:
			row[k] = v
		}
	}
	return row
}

func sortedKeys(fields domain.Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
