package testutil

import (
	"time"

	"gorm.io/datatypes"

	"CrmSync/internal/model"
)

// Object builds a mirror row; props alternate key, value.
func Object(id, owner string, updatedAt time.Time, props ...string) *model.CrmObject {
	o := &model.CrmObject{
		ID:         id,
		Properties: datatypes.JSONMap{},
		CreatedAt:  updatedAt,
		UpdatedAt:  updatedAt,
		SyncedAt:   updatedAt,
	}
	if owner != "" {
		o.OwnerID = &owner
		o.Properties[model.PropOwnerID] = owner
	}
	for i := 0; i+1 < len(props); i += 2 {
		o.Properties[props[i]] = props[i+1]
	}
	return o
}

// Record builds a CRM wire record; props alternate key, value.
func Record(id string, updatedAt time.Time, props ...string) model.CrmRecord {
	r := model.CrmRecord{
		ID:         id,
		Properties: map[string]*string{},
		CreatedAt:  updatedAt.Format(time.RFC3339Nano),
		UpdatedAt:  updatedAt.Format(time.RFC3339Nano),
	}
	for i := 0; i+1 < len(props); i += 2 {
		v := props[i+1]
		r.Properties[props[i]] = &v
	}
	return r
}

func Ptr[T any](v T) *T { return &v }
