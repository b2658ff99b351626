// Package checkpoint persists per-session stage completion records so a
// multi-hour pipeline run can resume after a crash without redoing finished
// work. Records live in a SQLite database; payloads above a size threshold
// spill to sidecar blob files referenced from the row.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"sessionscribe/internal/session"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	// defaultBlobThreshold is the serialized payload size above which the
	// payload is written to a sidecar file instead of inlined in the row.
	defaultBlobThreshold = 256 * 1024
)

// ErrStageOrder indicates an attempt to checkpoint a stage before all prior
// stages completed for the same session.
var ErrStageOrder = errors.New("checkpoint saved out of stage order")

// ErrCorruptPayload indicates a stored checkpoint payload could not be decoded.
var ErrCorruptPayload = errors.New("corrupt checkpoint payload")

// Store manages checkpoint persistence backed by SQLite.
type Store struct {
	db            *sql.DB
	root          string
	blobThreshold int
	logger        *zap.Logger
}

// Payload is one stored stage payload. Raw holds the serialized JSON; Decode
// unmarshals it into a stage-specific type.
type Payload struct {
	Stage       session.Stage
	CompletedAt time.Time
	Raw         json.RawMessage
}

// Decode unmarshals the payload JSON into the given value.
func (p Payload) Decode(into interface{}) error {
	if err := json.Unmarshal(p.Raw, into); err != nil {
		return fmt.Errorf("%w: stage %s: %v", ErrCorruptPayload, p.Stage, err)
	}
	return nil
}

// Open initializes or connects to the checkpoint database under root.
func Open(root string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}

	dbPath := filepath.Join(root, "checkpoints.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, root: root, blobThreshold: defaultBlobThreshold, logger: logger}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// SetBlobThreshold overrides the payload size at which blobs spill to sidecar files.
func (s *Store) SetBlobThreshold(bytes int) {
	if bytes > 0 {
		s.blobThreshold = bytes
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...interface{}) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Save records stage completion for the session along with its payload.
// It enforces the resume invariant: stage N can only be checkpointed once
// stages 0..N-1 are completed for the same session.
func (s *Store) Save(ctx context.Context, sessionID string, stage session.Stage, payload interface{}) error {
	ctx = ensureContext(ctx)
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if !stage.Valid() {
		return fmt.Errorf("invalid stage %d", int(stage))
	}

	for prior := session.Stage(0); prior < stage; prior++ {
		done, err := s.HasCompleted(ctx, sessionID, prior)
		if err != nil {
			return err
		}
		if !done {
			return fmt.Errorf("%w: stage %s requires completed stage %s", ErrStageOrder, stage, prior)
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for stage %s: %w", stage, err)
	}

	inline := sql.NullString{}
	blobPath := sql.NullString{}
	if len(data) > s.blobThreshold {
		rel, err := s.writeBlob(sessionID, stage, data)
		if err != nil {
			return err
		}
		blobPath = sql.NullString{String: rel, Valid: true}
	} else {
		inline = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `INSERT INTO checkpoints (session_id, stage, stage_name, status, payload, blob_path, error, completed_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)
ON CONFLICT(session_id, stage) DO UPDATE SET
  status = excluded.status,
  payload = excluded.payload,
  blob_path = excluded.blob_path,
  error = NULL,
  completed_at = excluded.completed_at,
  updated_at = excluded.updated_at`
	if err := s.execWithRetry(ctx, query,
		sessionID, int(stage), stage.String(), string(session.StatusCompleted),
		inline, blobPath, now, now); err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", sessionID, stage, err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("session_id", sessionID),
		zap.String("stage", stage.String()),
		zap.Int("payload_bytes", len(data)),
		zap.Bool("blob", blobPath.Valid))
	return nil
}

// writeBlob stores a large payload as a sidecar file using an atomic
// tmp-then-rename write so a crash never leaves a partial blob visible.
func (s *Store) writeBlob(sessionID string, stage session.Stage, data []byte) (string, error) {
	dir := filepath.Join(s.root, "blobs", sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	rel := filepath.Join("blobs", sessionID, stage.String()+".json")
	final := filepath.Join(s.root, rel)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("rename blob: %w", err)
	}
	return rel, nil
}

// MarkFailed records a failed stage attempt without disturbing completed
// checkpoints for earlier stages.
func (s *Store) MarkFailed(ctx context.Context, sessionID string, stage session.Stage, runErr error) error {
	ctx = ensureContext(ctx)
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `INSERT INTO checkpoints (session_id, stage, stage_name, status, payload, blob_path, error, completed_at, updated_at)
VALUES (?, ?, ?, ?, NULL, NULL, ?, NULL, ?)
ON CONFLICT(session_id, stage) DO UPDATE SET
  status = excluded.status,
  error = excluded.error,
  completed_at = NULL,
  updated_at = excluded.updated_at`
	if err := s.execWithRetry(ctx, query,
		sessionID, int(stage), stage.String(), string(session.StatusFailed), msg, now); err != nil {
		return fmt.Errorf("mark failed %s/%s: %w", sessionID, stage, err)
	}
	return nil
}

// HasCompleted reports whether the stage has a completed checkpoint for the session.
func (s *Store) HasCompleted(ctx context.Context, sessionID string, stage session.Stage) (bool, error) {
	ctx = ensureContext(ctx)
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM checkpoints WHERE session_id = ? AND stage = ? AND status = ?",
		sessionID, int(stage), string(session.StatusCompleted)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query checkpoint %s/%s: %w", sessionID, stage, err)
	}
	return count > 0, nil
}

// Load returns the completed stage payloads for the session. A row whose
// payload cannot be read is logged and omitted; corruption is fatal only for
// the stage that needs that payload, never for loading as a whole.
func (s *Store) Load(ctx context.Context, sessionID string) (map[session.Stage]Payload, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT stage, payload, blob_path, completed_at FROM checkpoints WHERE session_id = ? AND status = ? ORDER BY stage",
		sessionID, string(session.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("load checkpoints for %s: %w", sessionID, err)
	}
	defer rows.Close()

	out := make(map[session.Stage]Payload)
	for rows.Next() {
		var (
			stageInt    int
			inline      sql.NullString
			blobPath    sql.NullString
			completedAt sql.NullString
		)
		if err := rows.Scan(&stageInt, &inline, &blobPath, &completedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		stage := session.Stage(stageInt)
		if !stage.Valid() {
			s.logger.Warn("skipping checkpoint with unknown stage",
				zap.String("session_id", sessionID), zap.Int("stage", stageInt))
			continue
		}

		var raw json.RawMessage
		switch {
		case blobPath.Valid:
			data, readErr := os.ReadFile(filepath.Join(s.root, blobPath.String))
			if readErr != nil {
				s.logger.Warn("skipping checkpoint with unreadable blob",
					zap.String("session_id", sessionID),
					zap.String("stage", stage.String()),
					zap.Error(readErr))
				continue
			}
			raw = data
		case inline.Valid:
			raw = json.RawMessage(inline.String)
		default:
			raw = json.RawMessage("null")
		}

		if !json.Valid(raw) {
			s.logger.Warn("skipping corrupt checkpoint payload",
				zap.String("session_id", sessionID),
				zap.String("stage", stage.String()))
			continue
		}

		p := Payload{Stage: stage, Raw: raw}
		if completedAt.Valid {
			if ts, parseErr := time.Parse(time.RFC3339Nano, completedAt.String); parseErr == nil {
				p.CompletedAt = ts
			}
		}
		out[stage] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}
	return out, nil
}

// FailedStages returns the stages currently marked failed for the session with
// their recorded error text.
func (s *Store) FailedStages(ctx context.Context, sessionID string) (map[session.Stage]string, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT stage, error FROM checkpoints WHERE session_id = ? AND status = ? ORDER BY stage",
		sessionID, string(session.StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("load failed stages for %s: %w", sessionID, err)
	}
	defer rows.Close()

	out := make(map[session.Stage]string)
	for rows.Next() {
		var stageInt int
		var msg sql.NullString
		if err := rows.Scan(&stageInt, &msg); err != nil {
			return nil, fmt.Errorf("scan failed-stage row: %w", err)
		}
		if stage := session.Stage(stageInt); stage.Valid() {
			out[stage] = msg.String
		}
	}
	return out, rows.Err()
}

// Clear removes all checkpoint records and blobs for the session. Intended for
// operator tooling that archives or restarts a session from scratch.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	ctx = ensureContext(ctx)
	if err := s.execWithRetry(ctx, "DELETE FROM checkpoints WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("clear checkpoints for %s: %w", sessionID, err)
	}
	blobDir := filepath.Join(s.root, "blobs", sessionID)
	if err := os.RemoveAll(blobDir); err != nil {
		return fmt.Errorf("remove blob dir for %s: %w", sessionID, err)
	}
	return nil
}
