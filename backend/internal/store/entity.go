package store

import "time"

type Document struct {
	DocID     string `gorm:"column:id;primaryKey;type:varchar(64)"`
	ProjectID string `gorm:"type:varchar(64);index"`
	Title     string `gorm:"type:varchar(255);uniqueIndex"`
	Content   string `gorm:"type:longtext"`
	Version   uint64 `gorm:"default:0"`
	CreatedBy uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Document) TableName() string { return "documents" }

// 操作日志行：append-only，(document_id, sequence_number) 唯一。
type DocumentOperation struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	OperationID    string `gorm:"type:varchar(64)"`
	DocumentID     string `gorm:"type:varchar(64);uniqueIndex:idx_doc_seq,priority:1"`
	UserID         uint64
	SessionID      string `gorm:"type:varchar(64)"`
	OperationType  string `gorm:"type:varchar(16)"`
	OperationData  string `gorm:"type:json"`
	SequenceNumber uint64 `gorm:"uniqueIndex:idx_doc_seq,priority:2"`
	AppliedAt      time.Time
}

func (DocumentOperation) TableName() string { return "document_operations" }

// 周期压实目标：某一序列号处的全量内容快照。
type DocumentVersion struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	DocumentID      string `gorm:"type:varchar(64);uniqueIndex:idx_doc_ver,priority:1"`
	VersionNumber   uint64 `gorm:"uniqueIndex:idx_doc_ver,priority:2"`
	ContentSnapshot string `gorm:"type:longtext"`
	CreatedAt       time.Time
}

func (DocumentVersion) TableName() string { return "document_versions" }
