package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

var requiredTables = []string{
	"runs",
	"run_events",
	"run_event_sequences",
}

// New connects, applies the idempotent schema when tables are missing and
// verifies it.
func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

var errSchemaMissing = errors.New("database schema missing")

func ensureSchema(ctx context.Context, db *sql.DB) error {
	err := verifySchema(ctx, db)
	if !errors.Is(err, errSchemaMissing) {
		return err
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return verifySchema(ctx, db)
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	for _, table := range requiredTables {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("%w: %s table not found", errSchemaMissing, table)
		}
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) CreateRun(ctx context.Context, run store.Run) error {
	status := strings.TrimSpace(run.Status)
	if status == "" {
		status = store.StatusRunning
	}
	stage := strings.TrimSpace(run.Stage)
	if stage == "" {
		stage = "started"
	}
	mode := strings.TrimSpace(run.Mode)
	if mode == "" {
		mode = "inline"
	}
	const query = `
		INSERT INTO runs (
			id,
			prompt,
			status,
			stage,
			mode,
			step_count,
			source_count,
			total_tokens,
			error,
			checkpoint_seq,
			created_at,
			updated_at,
			finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		run.ID,
		run.Prompt,
		status,
		stage,
		mode,
		run.StepCount,
		run.SourceCount,
		run.TotalTokens,
		nullString(run.Error),
		run.CheckpointSeq,
		parseTimestampValue(run.CreatedAt),
		parseTimestampValue(run.UpdatedAt),
		parseTimestampNull(run.FinishedAt),
	)
	return err
}

const selectRunColumns = `
	SELECT id, prompt, status, stage, mode, step_count, source_count, total_tokens,
		error, checkpoint_seq, created_at, updated_at, finished_at
	FROM runs
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (store.Run, error) {
	var (
		run        store.Run
		errText    sql.NullString
		createdAt  time.Time
		updatedAt  time.Time
		finishedAt sql.NullTime
	)
	if err := row.Scan(
		&run.ID,
		&run.Prompt,
		&run.Status,
		&run.Stage,
		&run.Mode,
		&run.StepCount,
		&run.SourceCount,
		&run.TotalTokens,
		&errText,
		&run.CheckpointSeq,
		&createdAt,
		&updatedAt,
		&finishedAt,
	); err != nil {
		return store.Run{}, err
	}
	run.Error = errText.String
	run.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	run.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time.UTC().Format(time.RFC3339Nano)
	}
	return run, nil
}

func (p *PostgresStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	run, err := scanRun(p.db.QueryRowContext(ctx, selectRunColumns+" WHERE id = $1", runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (p *PostgresStore) ListRuns(ctx context.Context) ([]store.Run, error) {
	rows, err := p.db.QueryContext(ctx, selectRunColumns+" ORDER BY updated_at DESC, id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// AppendEvent inserts the event and folds it into the run row in one
// transaction.
func (p *PostgresStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	event.Type = store.NormalizeEventType(event.Type)
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	traceID := strings.TrimSpace(event.TraceID)
	var traceIDValue any
	if _, parseErr := uuid.Parse(traceID); parseErr == nil {
		traceIDValue = traceID
	}
	const query = `
		INSERT INTO run_events (run_id, seq, type, timestamp, source, trace_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, query, event.RunID, event.Seq, event.Type, parseTimestampValue(event.Timestamp), event.Source, traceIDValue, encoded); err != nil {
		return err
	}
	if err = applyRunStateTx(ctx, tx, event); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

func applyRunStateTx(ctx context.Context, tx *sql.Tx, event store.RunEvent) error {
	run, err := scanRun(tx.QueryRowContext(ctx, selectRunColumns+" WHERE id = $1 FOR UPDATE", event.RunID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	run = store.ApplyEvent(run, event)
	const query = `
		UPDATE runs
		SET
			status = $2,
			stage = $3,
			step_count = $4,
			source_count = $5,
			total_tokens = $6,
			error = $7,
			checkpoint_seq = $8,
			updated_at = $9,
			finished_at = $10
		WHERE id = $1
	`
	_, err = tx.ExecContext(
		ctx,
		query,
		run.ID,
		run.Status,
		run.Stage,
		run.StepCount,
		run.SourceCount,
		run.TotalTokens,
		nullString(run.Error),
		run.CheckpointSeq,
		parseTimestampValue(run.UpdatedAt),
		parseTimestampNull(run.FinishedAt),
	)
	return err
}

func (p *PostgresStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.RunEvent, error) {
	const query = `
		SELECT run_id, seq, type, timestamp, source, trace_id, payload
		FROM run_events
		WHERE run_id = $1 AND seq > $2
		ORDER BY seq ASC
	`
	rows, err := p.db.QueryContext(ctx, query, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.RunEvent{}
	for rows.Next() {
		var payloadBytes []byte
		var timestamp time.Time
		var traceID sql.NullString
		var event store.RunEvent
		if err := rows.Scan(&event.RunID, &event.Seq, &event.Type, &timestamp, &event.Source, &traceID, &payloadBytes); err != nil {
			return nil, err
		}
		event.Timestamp = timestamp.UTC().Format(time.RFC3339Nano)
		if traceID.Valid {
			event.TraceID = traceID.String
		}
		event.Payload = map[string]any{}
		if len(payloadBytes) > 0 {
			if err := json.Unmarshal(payloadBytes, &event.Payload); err != nil {
				return nil, err
			}
		}
		results = append(results, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) NextSeq(ctx context.Context, runID string) (int64, error) {
	const query = `
		INSERT INTO run_event_sequences (run_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (run_id)
		DO UPDATE SET last_seq = run_event_sequences.last_seq + 1
		RETURNING last_seq
	`
	var seq int64
	if err := p.db.QueryRowContext(ctx, query, runID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func parseTimestampValue(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func parseTimestampNull(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil
	}
	return parsed.UTC()
}

func nullString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}
