package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akave-ai/tracectrl/internal/model"
)

// ErrClientNotFound is returned by Persist when the log's client does not exist.
var ErrClientNotFound = errors.New("client not found")

const pgForeignKeyViolation = "23503"

var layerColumns = []string{
	"backtrace_id", "position", "line_number", "column_number", "code", "name", "file_path",
}

const selectLogs = `
	SELECT l.id, l.client_id, l.message, l.message_type, l.language,
	       s.line, s.code, s.file,
	       l.backtrace_id, l.line_number, l.file_name, l.warnings, l.date, l.received_from
	FROM logs l
	JOIN snippets s ON s.id = l.snippet_id`

// LogRepository stores logs together with their snippet, backtrace and layers.
type LogRepository struct {
	pool *pgxpool.Pool
}

// NewLogRepository returns a LogRepository using the given pool.
func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// Persist writes log and its children in one transaction and credits the
// owning client. Nothing is written if any step fails.
func (r *LogRepository) Persist(ctx context.Context, log *model.Log) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var snippetID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO snippets (content_hash, line, code, file)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (content_hash) DO UPDATE SET content_hash = EXCLUDED.content_hash
			RETURNING id`,
			snippetKey(log.Snippet),
			log.Snippet.Line,
			log.Snippet.Code,
			log.Snippet.File,
		).Scan(&snippetID)
		if err != nil {
			return fmt.Errorf("insert snippet: %w", err)
		}

		var backtraceID int64
		if err := tx.QueryRow(ctx, `INSERT INTO backtraces DEFAULT VALUES RETURNING id`).Scan(&backtraceID); err != nil {
			return fmt.Errorf("insert backtrace: %w", err)
		}

		if layers := log.Backtrace.Layers; len(layers) > 0 {
			_, err := tx.CopyFrom(ctx, pgx.Identifier{"layers"}, layerColumns,
				pgx.CopyFromSlice(len(layers), func(i int) ([]any, error) {
					l := layers[i]
					return []any{backtraceID, int32(i), l.LineNumber, l.ColumnNumber, l.Code, l.Name, l.FilePath}, nil
				}))
			if err != nil {
				return fmt.Errorf("insert layers: %w", err)
			}
		}

		warnings := log.Warnings
		if warnings == nil {
			warnings = []string{}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO logs (id, client_id, message, message_type, language, snippet_id, backtrace_id,
			                  line_number, file_name, warnings, date, received_from)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			log.ID,
			log.ClientID,
			log.Message,
			log.MessageType,
			log.Language,
			snippetID,
			backtraceID,
			log.LineNumber,
			log.FileName,
			warnings,
			log.Date,
			log.ReceivedFrom,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == "logs_client_id_fkey" {
				return ErrClientNotFound
			}
			return fmt.Errorf("insert log: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE clients SET reports_sent = reports_sent + 1, `+touchLastConnected+` WHERE id = $1`,
			log.ClientID,
		)
		if err != nil {
			return fmt.Errorf("update client: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrClientNotFound
		}
		return nil
	})
}

// List returns logs ordered by date, all of them or only those owned by clientID.
func (r *LogRepository) List(ctx context.Context, clientID *int32) ([]model.Log, error) {
	rows, err := r.pool.Query(ctx, selectLogs+`
		WHERE $1::integer IS NULL OR l.client_id = $1
		ORDER BY l.date, l.id`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []model.Log{}
	var backtraceIDs []int64
	for rows.Next() {
		log, backtraceID, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *log)
		backtraceIDs = append(backtraceIDs, backtraceID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	layers, err := r.layersFor(ctx, backtraceIDs)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if l, ok := layers[backtraceIDs[i]]; ok {
			list[i].Backtrace.Layers = l
		}
	}
	return list, nil
}

// Get returns the log with id owned by clientID, or nil if there is none.
// A log owned by another client is reported the same way as a missing one.
func (r *LogRepository) Get(ctx context.Context, id uuid.UUID, clientID int32) (*model.Log, error) {
	log, backtraceID, err := scanLog(r.pool.QueryRow(ctx, selectLogs+`
		WHERE l.id = $1 AND l.client_id = $2`, id, clientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	layers, err := r.layersFor(ctx, []int64{backtraceID})
	if err != nil {
		return nil, err
	}
	if l, ok := layers[backtraceID]; ok {
		log.Backtrace.Layers = l
	}
	return log, nil
}

func (r *LogRepository) layersFor(ctx context.Context, backtraceIDs []int64) (map[int64][]model.Layer, error) {
	out := make(map[int64][]model.Layer, len(backtraceIDs))
	if len(backtraceIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT backtrace_id, line_number, column_number, code, name, file_path
		FROM layers
		WHERE backtrace_id = ANY($1)
		ORDER BY backtrace_id, position`, backtraceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var backtraceID int64
		var l model.Layer
		if err := rows.Scan(&backtraceID, &l.LineNumber, &l.ColumnNumber, &l.Code, &l.Name, &l.FilePath); err != nil {
			return nil, err
		}
		out[backtraceID] = append(out[backtraceID], l)
	}
	return out, rows.Err()
}

func scanLog(row pgx.Row) (*model.Log, int64, error) {
	var log model.Log
	var backtraceID int64
	err := row.Scan(
		&log.ID,
		&log.ClientID,
		&log.Message,
		&log.MessageType,
		&log.Language,
		&log.Snippet.Line,
		&log.Snippet.Code,
		&log.Snippet.File,
		&backtraceID,
		&log.LineNumber,
		&log.FileName,
		&log.Warnings,
		&log.Date,
		&log.ReceivedFrom,
	)
	if err != nil {
		return nil, 0, err
	}
	log.Date = log.Date.UTC()
	log.Backtrace.Layers = []model.Layer{}
	return &log, backtraceID, nil
}
