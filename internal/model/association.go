package model

import "time"

// Association is a directed link between two mirrored objects as reported by the CRM.
type Association struct {
	ID              uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	SourceType      ObjectType `gorm:"column:source_type;type:varchar(16);not null;uniqueIndex:uk_association,priority:1"`
	SourceID        string     `gorm:"column:source_id;type:varchar(64);not null;uniqueIndex:uk_association,priority:2"`
	TargetType      ObjectType `gorm:"column:target_type;type:varchar(16);not null;uniqueIndex:uk_association,priority:3;index:idx_association_target,priority:1"`
	TargetID        string     `gorm:"column:target_id;type:varchar(64);not null;uniqueIndex:uk_association,priority:4;index:idx_association_target,priority:2"`
	AssociationType string     `gorm:"column:association_type;type:varchar(64);not null;default:'';uniqueIndex:uk_association,priority:5"`
	CreatedAt       time.Time  `gorm:"column:created_at;type:timestamp;autoCreateTime:false"`
}

func (Association) TableName() string { return "crm_associations" }
