package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"syncServer/backend/internal/collab"
)

type DocumentStore struct{ db *gorm.DB }

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) CreateDocument(ctx context.Context, ownerID uint64, title string) (string, error) {
	doc := Document{
		DocID:     fmt.Sprintf("d-%d", time.Now().UnixNano()),
		Title:     title,
		Content:   "",
		Version:   0,
		CreatedBy: ownerID,
	}
	if err := s.db.WithContext(ctx).Create(&doc).Error; err != nil {
		return "", err
	}
	return doc.DocID, nil
}

func (s *DocumentStore) GetDocumentID(ctx context.Context, title string) (string, error) {
	var doc Document
	err := s.db.WithContext(ctx).Select("id").Where("title = ?", title).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", collab.ErrDocumentNotFound
	}
	if err != nil {
		return "", err
	}
	return doc.DocID, nil
}

func (s *DocumentStore) GetDocument(ctx context.Context, docID string) (string, uint64, error) {
	var doc Document
	err := s.db.WithContext(ctx).Where("id = ?", docID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, collab.ErrDocumentNotFound
	}
	if err != nil {
		return "", 0, err
	}
	return doc.Content, doc.Version, nil
}
