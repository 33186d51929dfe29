package model

import "time"

// MatchBasis records how a closing call was linked to its deal.
type MatchBasis string

const (
	MatchDirect MatchBasis = "direct_association"
	MatchPhone  MatchBasis = "phone_match"
)

// CallAttribution credits a closed deal to the owner of its closing call.
type CallAttribution struct {
	DealID        string     `gorm:"column:deal_id;primaryKey;type:varchar(64)" json:"deal_id"`
	CallID        string     `gorm:"column:call_id;type:varchar(64);not null;index" json:"call_id"`
	OwnerID       *string    `gorm:"column:owner_id;type:varchar(64);index" json:"owner_id"`
	MatchBasis    MatchBasis `gorm:"column:match_basis;type:varchar(32);not null" json:"match_basis"`
	CallTimestamp time.Time  `gorm:"column:call_timestamp;type:timestamp;not null" json:"call_timestamp"`
	DealCloseAt   time.Time  `gorm:"column:deal_close_at;type:timestamp;not null;index" json:"deal_close_at"`
	ComputedAt    time.Time  `gorm:"column:computed_at;type:timestamp;not null" json:"computed_at"`
}

func (CallAttribution) TableName() string { return "call_attributions" }

// AllModels lists every table AutoMigrate creates.
func AllModels() []interface{} {
	return []interface{}{
		&Contact{}, &Deal{}, &Call{},
		&Association{},
		&SyncCursor{}, &SyncRun{},
		&CallAttribution{},
	}
}
