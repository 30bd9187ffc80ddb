package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"syncServer/backend/internal/collab"
	"syncServer/backend/internal/ot"
)

type OperationStore struct{ db *gorm.DB }

func NewOperationStore(db *gorm.DB) *OperationStore {
	return &OperationStore{db: db}
}

// Append：操作行 + 文档版本推进放在一个事务里。
// 版本列做乐观校验（version = seq-1），单写者下不该失败；
// 失败说明有别的进程在写同一文档，整体回滚，序列号不生效。
func (s *OperationStore) Append(ctx context.Context, rec collab.OperationRecord, newContent string) error {
	data, err := json.Marshal(rec.Op)
	if err != nil {
		return err
	}
	row := DocumentOperation{
		OperationID:    rec.OperationID,
		DocumentID:     rec.DocID,
		UserID:         rec.AuthorID,
		SessionID:      rec.SessionID,
		OperationType:  string(rec.Op.Kind),
		OperationData:  string(data),
		SequenceNumber: rec.Seq,
		AppliedAt:      rec.AppliedAt,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		res := tx.Model(&Document{}).
			Where("id = ? AND version = ?", rec.DocID, rec.Seq-1).
			Updates(map[string]any{
				"version":    rec.Seq,
				"content":    newContent,
				"updated_at": rec.AppliedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("doc %s: version moved under us at seq %d: %w", rec.DocID, rec.Seq, collab.ErrRevisionConflict)
		}
		return nil
	})
}

func (s *OperationStore) ListSince(ctx context.Context, docID string, afterSeq uint64) ([]collab.OperationRecord, error) {
	var rows []DocumentOperation
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND sequence_number > ?", docID, afterSeq).
		Order("sequence_number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]collab.OperationRecord, 0, len(rows))
	for _, row := range rows {
		var op ot.Operation
		if err := json.Unmarshal([]byte(row.OperationData), &op); err != nil {
			return nil, fmt.Errorf("doc %s seq %d: bad operation_data: %w", docID, row.SequenceNumber, err)
		}
		out = append(out, collab.OperationRecord{
			OperationID: row.OperationID,
			DocID:       row.DocumentID,
			Seq:         row.SequenceNumber,
			AuthorID:    row.UserID,
			SessionID:   row.SessionID,
			Op:          op,
			AppliedAt:   row.AppliedAt,
		})
	}
	return out, nil
}
