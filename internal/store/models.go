package store

import (
	"time"

	"gorm.io/datatypes"
)

// Bill is a legislative bill identified by (Billnumber, Version). Metadata
// carries provenance about where the bill was parsed from (source path,
// directory layout tag) rather than anything indexed or queried on.
type Bill struct {
	ID         uint              `gorm:"primaryKey"`
	Billnumber string            `gorm:"uniqueIndex:idx_bill_unique,priority:1;size:20"`
	Version    string            `gorm:"uniqueIndex:idx_bill_unique,priority:2;size:10"`
	Length     int
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName returns the table name for Bill.
func (Bill) TableName() string { return "bills" }

// SectionItem is a top-level, non-withdrawn section of a bill.
type SectionItem struct {
	ID                uint   `gorm:"primaryKey"`
	BillnumberVersion string `gorm:"uniqueIndex:idx_section_unique,priority:1;size:24;column:billnumber_version"`
	SectionIDAttr     string `gorm:"uniqueIndex:idx_section_unique,priority:2;size:64;column:section_id_attr"`
	Label             string
	Header            string
	Length            int
	CreatedAt         time.Time
}

// TableName returns the table name for SectionItem.
func (SectionItem) TableName() string { return "section_items" }

// BillToBill is a directed similarity edge from a query bill to a match bill.
type BillToBill struct {
	BillID         uint `gorm:"primaryKey;column:bill_id"`
	BillToID       uint `gorm:"primaryKey;column:bill_to_id"`
	ScoreES        float64
	Score          float64
	ScoreTo        float64
	ReasonsString  string
	IdentifiedBy   string
	SectionsNum    int
	SectionsMatch  int
	CurrencyID     uint `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName returns the table name for BillToBill.
func (BillToBill) TableName() string { return "bill_to_bills" }

// SectionToSection is a directed similarity edge from a query section to a
// match section, denormalized with the owning bill ids for index-only reads.
type SectionToSection struct {
	SectionID   uint `gorm:"primaryKey;column:section_id"`
	SectionToID uint `gorm:"primaryKey;column:section_to_id"`
	BillID      uint `gorm:"column:bill_id"`
	BillToID    uint `gorm:"column:bill_to_id"`
	Score       float64
	CurrencyID  uint `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName returns the table name for SectionToSection.
func (SectionToSection) TableName() string { return "section_to_sections" }

// CurrencyEpoch is an append-only marker of a pipeline run; every write in
// a run is stamped with the latest epoch's id, and the stale-row sweep
// deletes anything stamped with an older one.
type CurrencyEpoch struct {
	ID        uint `gorm:"primaryKey"`
	Version   string
	Timestamp time.Time
}

// TableName returns the table name for CurrencyEpoch.
func (CurrencyEpoch) TableName() string { return "currency_epochs" }
