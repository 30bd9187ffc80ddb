package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"syncServer/backend/internal/collab"
)

type SnapshotStore struct{ db *sql.DB }

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) SaveDocumentSnapshot(ctx context.Context, docID string, seq uint64, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_versions (document_id, version_number, content_snapshot, created_at)
		VALUES (?, ?, ?, NOW())`,
		docID,
		seq,
		content,
	)
	if err != nil {
		// 同一 (docID, seq) 的快照重复写入是无害的
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return err
	}
	return nil
}

func (s *SnapshotStore) LatestSnapshot(ctx context.Context, docID string) (string, uint64, error) {
	var content string
	var seq uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT content_snapshot, version_number FROM document_versions
		WHERE document_id = ? ORDER BY version_number DESC LIMIT 1`,
		docID,
	).Scan(&content, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, collab.ErrNoSnapshot
	}
	if err != nil {
		return "", 0, err
	}
	return content, seq, nil
}
