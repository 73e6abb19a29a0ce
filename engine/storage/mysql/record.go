package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/micromdm/nanoprocess/engine/storage"
)

// RetrieveRecord implements the storage interface method.
func (s *MySQLStorage) RetrieveRecord(ctx context.Context, kind, id string) (*storage.Record, error) {
	if kind == "" || id == "" {
		return nil, storage.ErrEmptyKindOrID
	}
	var parent, status sql.NullString
	r := &storage.Record{Kind: kind, ID: id}
	err := s.db.QueryRowContext(
		ctx,
		`SELECT parent_id, status, version, data FROM records WHERE kind = ? AND id = ?;`,
		kind, id,
	).Scan(&parent, &status, &r.Version, &r.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", storage.ErrRecordNotFound, kind, id)
	} else if err != nil {
		return nil, fmt.Errorf("selecting %s %s: %w", kind, id, err)
	}
	r.Parent = parent.String
	r.Status = status.String
	return r, nil
}

func (s *MySQLStorage) queryRecords(ctx context.Context, kind, column, value string) ([]*storage.Record, error) {
	if kind == "" {
		return nil, storage.ErrEmptyKindOrID
	}
	rows, err := s.db.QueryContext(
		ctx,
		// column is never caller-supplied
		`SELECT id, parent_id, status, version, data FROM records WHERE kind = ? AND `+column+` = ? ORDER BY id;`,
		kind, value,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting %s by %s: %w", kind, column, err)
	}
	defer rows.Close()
	var ret []*storage.Record
	for rows.Next() {
		var parent, status sql.NullString
		r := &storage.Record{Kind: kind}
		if err = rows.Scan(&r.ID, &parent, &status, &r.Version, &r.Data); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", kind, err)
		}
		r.Parent = parent.String
		r.Status = status.String
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

// RetrieveRecordsByParent implements the storage interface method.
func (s *MySQLStorage) RetrieveRecordsByParent(ctx context.Context, kind, parent string) ([]*storage.Record, error) {
	return s.queryRecords(ctx, kind, "parent_id", parent)
}

// RetrieveRecordsByStatus implements the storage interface method.
func (s *MySQLStorage) RetrieveRecordsByStatus(ctx context.Context, kind, status string) ([]*storage.Record, error) {
	return s.queryRecords(ctx, kind, "status", status)
}

// CommitRecords implements the storage interface method.
// Updates compare-and-swap on the version column inside one transaction.
func (s *MySQLStorage) CommitRecords(ctx context.Context, writes []*storage.Write) error {
	if err := storage.ValidateWrites(writes); err != nil {
		return err
	}
	return tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for _, w := range writes {
			if err := commitWrite(ctx, tx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

func commitWrite(ctx context.Context, tx *sql.Tx, w *storage.Write) error {
	r := w.Record
	if w.Create {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO records (kind, id, parent_id, status, version, data) VALUES (?, ?, ?, ?, ?, ?);`,
			r.Kind, r.ID, sqlNullString(r.Parent), sqlNullString(r.Status), r.Version, r.Data,
		)
		if isDuplicateEntry(err) {
			return fmt.Errorf("%w: %s %s", storage.ErrRecordExists, r.Kind, r.ID)
		} else if err != nil {
			return fmt.Errorf("inserting %s %s: %w", r.Kind, r.ID, err)
		}
		return nil
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE records SET parent_id = ?, status = ?, version = ?, data = ? WHERE kind = ? AND id = ? AND version = ?;`,
		sqlNullString(r.Parent), sqlNullString(r.Status), r.Version, r.Data, r.Kind, r.ID, w.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating %s %s: %w", r.Kind, r.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected %s %s: %w", r.Kind, r.ID, err)
	}
	if affected == 1 {
		return nil
	}

	// nothing updated; find out why
	var found int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE kind = ? AND id = ?;`, r.Kind, r.ID).Scan(&found)
	if err != nil {
		return fmt.Errorf("counting %s %s: %w", r.Kind, r.ID, err)
	}
	if found < 1 {
		return fmt.Errorf("%w: %s %s", storage.ErrRecordNotFound, r.Kind, r.ID)
	}
	return fmt.Errorf("%w: %s %s", storage.ErrVersionMismatch, r.Kind, r.ID)
}
