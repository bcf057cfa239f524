package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqlStore implements Store on database/sql. The sqlite and postgres
// drivers differ only in placeholder syntax and connection setup.
type sqlStore struct {
	db     *sql.DB
	log    logx.Logger
	rebind func(string) string

	opCount    atomic.Uint64
	pruneEvery uint64
}

const jobColumns = `owner_id, job_name, chat_id, kind, message, task_json, reminder_json, trigger_json, created_at, updated_at`

func newSQLStore(db *sql.DB, log logx.Logger, rebind func(string) string) (*sqlStore, error) {
	if rebind == nil {
		rebind = func(q string) string { return q }
	}
	s := &sqlStore{db: db, log: log, rebind: rebind, pruneEvery: 500}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) SaveJobs(ctx context.Context, put []Job, del []Key) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range del {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM jobs WHERE owner_id = ? AND job_name = ?`), k.Owner, k.Name); err != nil {
			return err
		}
	}
	now := time.Now().UnixMilli()
	for _, j := range put {
		created := now
		if !j.CreatedAt.IsZero() {
			created = j.CreatedAt.UnixMilli()
		}
		trig, err := encodeTrigger(j.Trigger)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO jobs(`+jobColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(owner_id, job_name) DO UPDATE SET
				chat_id = excluded.chat_id, kind = excluded.kind, message = excluded.message,
				task_json = excluded.task_json, reminder_json = excluded.reminder_json,
				trigger_json = excluded.trigger_json, updated_at = excluded.updated_at`),
			j.Owner, j.Name, j.ChatID, string(j.Kind), j.Message,
			nullStr(string(j.Task)), nullStr(string(j.Reminder)), trig, created, now,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) GetJob(ctx context.Context, key Key) (Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE owner_id = ? AND job_name = ?`), key.Owner, key.Name)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

func (s *sqlStore) DeleteJob(ctx context.Context, key Key, linked ...Key) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	del := s.rebind(`DELETE FROM jobs WHERE owner_id = ? AND job_name = ?`)
	res, err := tx.ExecContext(ctx, del, key.Owner, key.Name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	for _, k := range linked {
		if _, err := tx.ExecContext(ctx, del, k.Owner, k.Name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) ListJobs(ctx context.Context, owner int64) ([]Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE owner_id = ? ORDER BY job_name`, owner)
}

func (s *sqlStore) AllJobs(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY owner_id, job_name`)
}

func (s *sqlStore) queryJobs(ctx context.Context, q string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqlStore) RecordFire(ctx context.Context, key Key, tr Trigger) (Job, error) {
	trig, err := encodeTrigger(&tr)
	if err != nil {
		return Job{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, err
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := s.ownedTrigger(ctx, tx, key, tr)
	if err != nil {
		return Job{}, err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE jobs SET trigger_json = ?, updated_at = ? WHERE owner_id = ? AND job_name = ? AND trigger_json = ?`),
		trig, time.Now().UnixMilli(), key.Owner, key.Name, prev)
	if err != nil {
		return Job{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return Job{}, err
	} else if n == 0 {
		return Job{}, ErrTriggerReplaced
	}
	row := tx.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE owner_id = ? AND job_name = ?`), key.Owner, key.Name)
	j, err := scanJob(row)
	if err != nil {
		return Job{}, err
	}
	return j, tx.Commit()
}

func (s *sqlStore) FinishJob(ctx context.Context, key Key, tr Trigger) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := s.ownedTrigger(ctx, tx, key, tr)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM jobs WHERE owner_id = ? AND job_name = ? AND trigger_json = ?`),
		key.Owner, key.Name, prev)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrTriggerReplaced
	}
	return tx.Commit()
}

// ownedTrigger returns the stored trigger text of key when tr continues it.
// Writes guard on that text so a concurrent replacement makes them miss.
func (s *sqlStore) ownedTrigger(ctx context.Context, tx *sql.Tx, key Key, tr Trigger) (string, error) {
	var raw sql.NullString
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT trigger_json FROM jobs WHERE owner_id = ? AND job_name = ?`), key.Owner, key.Name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !raw.Valid || raw.String == "" {
		return "", ErrTriggerReplaced
	}
	var stored Trigger
	if err := json.Unmarshal([]byte(raw.String), &stored); err != nil {
		return "", err
	}
	if !tr.Continues(&stored) {
		return "", ErrTriggerReplaced
	}
	return raw.String, nil
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO audit(at, actor_id, chat_id, action, target, err) VALUES(?,?,?,?,?,?)`),
		e.At.UnixMilli(), e.ActorID, e.ChatID, e.Action, e.Target, nullStr(e.Error))
	return err
}

func (s *sqlStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO dedup(dedup_key, expires_at) VALUES(?,?)
		ON CONFLICT(dedup_key) DO UPDATE SET expires_at = excluded.expires_at`), key, until.UnixMilli())
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqlStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT expires_at FROM dedup WHERE dedup_key = ?`), key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqlStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM dedup WHERE expires_at < ?`), time.Now().UnixMilli())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var (
		j                    Job
		kind                 string
		task, reminder, trig sql.NullString
		createdAt, updatedAt int64
	)
	if err := r.Scan(&j.Owner, &j.Name, &j.ChatID, &kind, &j.Message, &task, &reminder, &trig, &createdAt, &updatedAt); err != nil {
		return Job{}, err
	}
	j.Kind = Kind(kind)
	if task.Valid {
		j.Task = json.RawMessage(task.String)
	}
	if reminder.Valid {
		j.Reminder = json.RawMessage(reminder.String)
	}
	if trig.Valid && trig.String != "" {
		var tr Trigger
		if err := json.Unmarshal([]byte(trig.String), &tr); err != nil {
			return Job{}, err
		}
		j.Trigger = &tr
	}
	j.CreatedAt = time.UnixMilli(createdAt)
	j.UpdatedAt = time.UnixMilli(updatedAt)
	return j, nil
}

func encodeTrigger(tr *Trigger) (any, error) {
	if tr == nil {
		return nil, nil
	}
	b, err := json.Marshal(tr)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// dollarRebind rewrites "?" placeholders to "$1", "$2", ... for postgres.
func dollarRebind(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
