// Package refs implements the reference container: compare-and-swap
// updates to named and symbolic references, peeled tag targets, and the
// append-only reflog audit trail.
package refs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prn-tf/gitobjdb/internal/domain"
)

// defaultReflogCommitter is filled in for a reflog append whose caller
// left Committer unset, matching the identity the original's logging
// callback defaults to when dulwich passes it no committer.
const defaultReflogCommitter = "gitobjdb <gitobjdb@localhost>"

// execQueryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx, letting
// readRef and writeDirectRef run either standalone or inside the
// immediate-lock transaction a CAS mutation holds.
type execQueryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Metrics is the subset of internal/metrics.Metrics the container
// instruments mutations and reflog appends with. A nil Metrics is a
// no-op, matching its Record* methods' own nil receivers.
type Metrics interface {
	RecordRefMutation(operation string, succeeded bool)
	RecordReflogAppend()
}

// Container is the reference half of a repository's database handle.
type Container struct {
	db      *sql.DB
	metrics Metrics
}

// New wraps an open database handle as a reference container. metrics
// may be nil.
func New(db *sql.DB, metrics Metrics) *Container {
	return &Container{db: db, metrics: metrics}
}

func (c *Container) record(operation string, succeeded bool) {
	if c.metrics != nil {
		c.metrics.RecordRefMutation(operation, succeeded)
	}
}

// ReflogMeta carries the fields attached to a reflog entry. Message is
// nil to mean "do not reflog this mutation": only a mutation whose
// caller supplies a non-nil message appends a row, matching Git's own
// RefsContainer, which skips its logging callback entirely when no
// message is given rather than logging an empty one. When Message is
// non-nil and Committer/Timestamp are left zero-valued, the container
// fills in a default committer identity and the current time before
// appending. Timestamp and Timezone are Unix-seconds and
// minutes-east-of-UTC respectively, matching Git's own reflog line
// format.
type ReflogMeta struct {
	Committer string
	Timestamp int64
	Timezone  int
	Message   *string
}

// Msg is a convenience constructor for ReflogMeta.Message, since Go has
// no literal syntax for a pointer to a string constant.
func Msg(s string) *string {
	return &s
}

// ReflogEntry is one row of a ref's reflog, in insertion (oldest first)
// order as returned by ReadReflog.
type ReflogEntry struct {
	RefName   string
	OldID     domain.ObjectID
	NewID     domain.ObjectID
	Committer string
	Timestamp int64
	Timezone  int
	Message   string
}

// ReadLooseRef returns the current state of name: absent, a direct
// object id, or a symbolic pointer. It does not resolve symbolic refs.
func (c *Container) ReadLooseRef(ctx context.Context, name string) (domain.RefState, error) {
	return readRef(ctx, c.db, name)
}

func readRef(ctx context.Context, q execQueryer, name string) (domain.RefState, error) {
	var value []byte
	err := q.QueryRowContext(ctx, "SELECT value FROM refs WHERE name = ?", []byte(name)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AbsentRef(), nil
	}
	if err != nil {
		return domain.RefState{}, fmt.Errorf("refs: read %s: %w", name, err)
	}
	return decodeValue(value)
}

func decodeValue(value []byte) (domain.RefState, error) {
	s := string(value)
	if len(s) > len(domain.SymbolicPrefix) && s[:len(domain.SymbolicPrefix)] == domain.SymbolicPrefix {
		return domain.SymbolicRef(s[len(domain.SymbolicPrefix):]), nil
	}
	id, err := domain.ParseObjectIDString(s)
	if err != nil {
		return domain.RefState{}, fmt.Errorf("refs: malformed ref value %q: %w", s, err)
	}
	return domain.DirectRef(id), nil
}

func refMatchesExpected(current domain.RefState, expected domain.ObjectID) bool {
	if expected.IsZero() {
		return current.IsAbsent()
	}
	return current.Kind == domain.RefDirect && current.ID == expected
}

// SetIfEquals atomically sets name to newID if and only if its current
// value equals oldID, returning whether the swap happened. Passing
// domain.ZeroObjectID as oldID requires the ref to currently be absent;
// passing it as newID deletes the ref. A CAS mismatch is reported as
// (false, nil), never as an error; only a genuine database failure
// returns a non-nil error. On success, if meta.Message is non-nil, a
// reflog entry is appended after the mutation commits; a nil Message
// means the caller does not want this mutation reflogged at all.
func (c *Container) SetIfEquals(ctx context.Context, name string, oldID, newID domain.ObjectID, meta ReflogMeta) (bool, error) {
	err := c.withImmediateTx(ctx, func(conn *sql.Conn) error {
		current, err := readRef(ctx, conn, name)
		if err != nil {
			return err
		}
		if !refMatchesExpected(current, oldID) {
			return errCASMismatch
		}
		return writeDirectRef(ctx, conn, name, newID)
	})
	if errors.Is(err, errCASMismatch) {
		c.record("set_if_equals", false)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	c.record("set_if_equals", true)
	if meta.Message == nil {
		return true, nil
	}
	if meta.Committer == "" {
		meta.Committer = defaultReflogCommitter
	}
	if meta.Timestamp == 0 {
		meta.Timestamp = time.Now().Unix()
	}
	if err := c.appendReflog(ctx, name, oldID, newID, meta); err != nil {
		return true, err
	}
	return true, nil
}

// AddIfNew is SetIfEquals with an expected-absent old value.
func (c *Container) AddIfNew(ctx context.Context, name string, newID domain.ObjectID, meta ReflogMeta) (bool, error) {
	return c.SetIfEquals(ctx, name, domain.ZeroObjectID, newID, meta)
}

// RemoveIfEquals is SetIfEquals with a zero new value, deleting the ref.
func (c *Container) RemoveIfEquals(ctx context.Context, name string, oldID domain.ObjectID, meta ReflogMeta) (bool, error) {
	return c.SetIfEquals(ctx, name, oldID, domain.ZeroObjectID, meta)
}

// SetSymbolicRef unconditionally points name at target, Git's "ref:
// <target>" form. Symbolic ref changes are not reflogged; only the
// direct object id changes they eventually resolve to are.
func (c *Container) SetSymbolicRef(ctx context.Context, name, target string) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO refs (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value",
		[]byte(name), []byte(domain.SymbolicPrefix+target),
	)
	if err != nil {
		return fmt.Errorf("refs: set symbolic ref %s: %w", name, err)
	}
	return nil
}

func writeDirectRef(ctx context.Context, q execQueryer, name string, id domain.ObjectID) error {
	if id.IsZero() {
		_, err := q.ExecContext(ctx, "DELETE FROM refs WHERE name = ?", []byte(name))
		if err != nil {
			return fmt.Errorf("refs: delete %s: %w", name, err)
		}
		return nil
	}
	_, err := q.ExecContext(ctx,
		"INSERT INTO refs (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value",
		[]byte(name), []byte(id.String()),
	)
	if err != nil {
		return fmt.Errorf("refs: write %s: %w", name, err)
	}
	return nil
}

// withImmediateTx runs fn on a single connection holding an immediate
// write lock for the whole read-then-write sequence, so a concurrent CAS
// on the same ref cannot interleave between the read and the write.
func (c *Container) withImmediateTx(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("refs: acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("refs: begin immediate: %w", err)
	}

	if err := fn(conn); err != nil {
		conn.ExecContext(ctx, "ROLLBACK")
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("refs: commit: %w", err)
	}
	return nil
}

// AllKeys returns every ref name currently stored, in ascending order.
func (c *Container) AllKeys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT name FROM refs ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("refs: list: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("refs: scan name: %w", err)
		}
		names = append(names, string(b))
	}
	return names, rows.Err()
}

// GetPeeled returns the peeled (dereferenced) object id stored for an
// annotated tag ref, if one has been recorded.
func (c *Container) GetPeeled(ctx context.Context, name string) (domain.ObjectID, bool, error) {
	var value []byte
	err := c.db.QueryRowContext(ctx, "SELECT value FROM peeled_refs WHERE name = ?", []byte(name)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ObjectID{}, false, nil
	}
	if err != nil {
		return domain.ObjectID{}, false, fmt.Errorf("refs: get peeled %s: %w", name, err)
	}
	id, err := domain.ParseObjectIDString(string(value))
	if err != nil {
		return domain.ObjectID{}, false, err
	}
	return id, true, nil
}

// SetPeeled unconditionally records the peeled object id for an
// annotated tag ref.
func (c *Container) SetPeeled(ctx context.Context, name string, id domain.ObjectID) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO peeled_refs (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value",
		[]byte(name), []byte(id.String()),
	)
	if err != nil {
		return fmt.Errorf("refs: set peeled %s: %w", name, err)
	}
	return nil
}

// appendReflog inserts a reflog row outside the mutation transaction,
// so a reflog write failure never rolls back an already-committed ref
// update.
func (c *Container) appendReflog(ctx context.Context, name string, oldID, newID domain.ObjectID, meta ReflogMeta) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO reflog (ref_name, old_sha, new_sha, committer, timestamp, timezone, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		[]byte(name), []byte(oldID.String()), []byte(newID.String()), []byte(meta.Committer),
		meta.Timestamp, meta.Timezone, []byte(*meta.Message),
	)
	if err != nil {
		return fmt.Errorf("refs: append reflog for %s: %w", name, err)
	}
	if c.metrics != nil {
		c.metrics.RecordReflogAppend()
	}
	return nil
}

// ReadReflog returns up to limit reflog entries for name in insertion
// order (oldest first), matching the auto-increment id order the
// entries were appended in, independent of their timestamp field. A
// non-positive limit returns the entire log.
func (c *Container) ReadReflog(ctx context.Context, name string, limit int) ([]ReflogEntry, error) {
	query := "SELECT old_sha_text, new_sha_text, committer_text, timestamp, timezone, message_text FROM reflog WHERE ref_name_text = ? ORDER BY id ASC"
	args := []any{name}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("refs: read reflog for %s: %w", name, err)
	}
	defer rows.Close()

	var entries []ReflogEntry
	for rows.Next() {
		var oldHex, newHex, committer, message string
		var ts int64
		var tz int
		if err := rows.Scan(&oldHex, &newHex, &committer, &ts, &tz, &message); err != nil {
			return nil, fmt.Errorf("refs: scan reflog row: %w", err)
		}
		oldID, err := domain.ParseObjectIDString(oldHex)
		if err != nil {
			return nil, err
		}
		newID, err := domain.ParseObjectIDString(newHex)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ReflogEntry{
			RefName: name, OldID: oldID, NewID: newID,
			Committer: committer, Timestamp: ts, Timezone: tz, Message: message,
		})
	}
	return entries, rows.Err()
}
