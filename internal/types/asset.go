package types

import (
	"time"

	"gorm.io/datatypes"
)

// Asset is a table or image lifted out of a document during ingestion.
type Asset struct {
	ID          string         `gorm:"type:uuid;primaryKey" json:"id"`
	SHA256      string         `gorm:"column:sha256;index;not null" json:"sha256"`
	Filepath    string         `gorm:"column:filepath;not null" json:"filepath"`
	Page        *int           `gorm:"column:page" json:"page,omitempty"`
	Type        string         `gorm:"column:type;index;not null" json:"type"`
	ImageURL    *string        `gorm:"column:image_url" json:"image_url,omitempty"`
	CaptionText *string        `gorm:"column:caption_text" json:"caption_text,omitempty"`
	CaptionEmb  datatypes.JSON `gorm:"column:caption_emb" json:"caption_emb,omitempty"`
	Meta        datatypes.JSON `gorm:"column:meta" json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (Asset) TableName() string {
	return "assets"
}

const (
	AssetTypeImage = "image"
	AssetTypeTable = "table"
)

// TableBody holds the normalized renderings of a table asset.
type TableBody struct {
	AssetID   string    `gorm:"type:uuid;primaryKey;column:asset_id" json:"asset_id"`
	NRows     int       `gorm:"column:n_rows;not null" json:"n_rows"`
	NCols     int       `gorm:"column:n_cols;not null" json:"n_cols"`
	TSV       string    `gorm:"column:tsv" json:"tsv"`
	MD        string    `gorm:"column:md" json:"md"`
	HTML      string    `gorm:"column:html" json:"html"`
	CreatedAt time.Time `json:"created_at"`
}

func (TableBody) TableName() string {
	return "table_bodies"
}
