package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// CRM property names read by attribution and reporting. Everything else in the
// property bag is stored as-is and read on demand.
const (
	PropOwnerID      = "hubspot_owner_id"
	PropPhone        = "phone"
	PropMobilePhone  = "mobilephone"
	PropCloseDate    = "closedate"
	PropDealStage    = "dealstage"
	PropAmount       = "amount"
	PropCallTime     = "hs_timestamp"
	PropCallToNumber = "hs_call_to_number"
)

// CrmObject is the mirror row shared by every CRM object table.
type CrmObject struct {
	ID         string            `gorm:"column:id;primaryKey;type:varchar(64)"`
	OwnerID    *string           `gorm:"column:owner_id;type:varchar(64);index"`
	Properties datatypes.JSONMap `gorm:"column:properties;type:jsonb;comment:raw CRM property bag"`
	Archived   bool              `gorm:"column:archived;not null"`
	CreatedAt  time.Time         `gorm:"column:created_at;type:timestamp;autoCreateTime:false;comment:CRM createdAt"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;type:timestamp;autoUpdateTime:false;index;comment:CRM updatedAt, non-decreasing"`
	SyncedAt   time.Time         `gorm:"column:synced_at;type:timestamp;comment:last local write"`
}

// Prop returns a property as a trimmed string, "" when absent.
func (o *CrmObject) Prop(name string) string {
	if o.Properties == nil {
		return ""
	}
	v, ok := o.Properties[name]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// PropTime parses a timestamp property. The CRM sends ISO-8601 strings, older
// records carry epoch milliseconds.
func (o *CrmObject) PropTime(name string) (time.Time, bool) {
	raw := o.Prop(name)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := ParseCRMTime(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type Contact struct {
	CrmObject
}

func (Contact) TableName() string { return "crm_contacts" }

// PhoneNumbers returns the non-empty phone properties of the contact.
func (c *Contact) PhoneNumbers() []string {
	var phones []string
	for _, p := range []string{PropPhone, PropMobilePhone} {
		if v := c.Prop(p); v != "" {
			phones = append(phones, v)
		}
	}
	return phones
}

type Deal struct {
	CrmObject
}

func (Deal) TableName() string { return "crm_deals" }

func (d *Deal) CloseTime() (time.Time, bool) { return d.PropTime(PropCloseDate) }

func (d *Deal) Stage() string { return d.Prop(PropDealStage) }

// Amount returns the deal amount, 0 when missing or malformed.
func (d *Deal) Amount() float64 {
	f, err := strconv.ParseFloat(d.Prop(PropAmount), 64)
	if err != nil {
		return 0
	}
	return f
}

type Call struct {
	CrmObject
}

func (Call) TableName() string { return "crm_calls" }

// Timestamp is when the call happened; calls without hs_timestamp fall back to creation time.
func (c *Call) Timestamp() (time.Time, bool) {
	if t, ok := c.PropTime(PropCallTime); ok {
		return t, true
	}
	if !c.CreatedAt.IsZero() {
		return c.CreatedAt, true
	}
	return time.Time{}, false
}

func (c *Call) ToNumber() string { return c.Prop(PropCallToNumber) }

// ParseCRMTime accepts RFC 3339 timestamps, bare dates and epoch milliseconds.
func ParseCRMTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}
