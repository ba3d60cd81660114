package types

import (
	"time"

	"gorm.io/datatypes"
)

// Fragment is the unit of retrieval: one chunk of prose, one table row, or one
// caption. Rows are immutable once written. Seq is the durable insertion order
// and doubles as the ranking tie-break.
type Fragment struct {
	Seq        int64          `gorm:"primaryKey;autoIncrement" json:"-"`
	ID         string         `gorm:"type:uuid;uniqueIndex;not null" json:"id"`
	Content    string         `gorm:"column:content;not null" json:"content"`
	Type       string         `gorm:"column:type;index;not null" json:"type"`
	SHA256     string         `gorm:"column:sha256;index" json:"sha256"`
	Page       *int           `gorm:"column:page" json:"page,omitempty"`
	ChunkIndex *int           `gorm:"column:chunk_index" json:"chunk_index,omitempty"`
	AssetID    *string        `gorm:"type:uuid;column:asset_id;index" json:"asset_id,omitempty"`
	RowIndex   *int           `gorm:"column:row_index" json:"row_index,omitempty"`
	Metadata   datatypes.JSON `gorm:"column:metadata" json:"metadata"`
	Embedding  datatypes.JSON `gorm:"column:embedding;not null" json:"embedding"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (Fragment) TableName() string {
	return "fragments"
}

// Fragment content kinds. table_row and image_caption are synthesized during
// ingestion; the rest mirror the source document family.
const (
	FragmentTypePDF          = "pdf"
	FragmentTypeText         = "text"
	FragmentTypeOffice       = "office"
	FragmentTypeHWP          = "hwp"
	FragmentTypeHWPX         = "hwpx"
	FragmentTypeTableRow     = "table_row"
	FragmentTypeImageCaption = "image_caption"
)

func ProseFragmentTypes() []string {
	return []string{
		FragmentTypePDF,
		FragmentTypeText,
		FragmentTypeOffice,
		FragmentTypeHWPX,
		FragmentTypeHWP,
	}
}
