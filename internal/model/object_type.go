package model

// ObjectType names a CRM object type; the value is the CRM's own path segment.
type ObjectType string

const (
	ObjectContacts ObjectType = "contacts"
	ObjectDeals    ObjectType = "deals"
	ObjectCalls    ObjectType = "calls"
)

// AllObjectTypes lists every object type the mirror understands.
var AllObjectTypes = []ObjectType{ObjectContacts, ObjectCalls, ObjectDeals}

func (t ObjectType) Valid() bool {
	switch t {
	case ObjectContacts, ObjectDeals, ObjectCalls:
		return true
	}
	return false
}

// AssociationTargets returns the target types whose links are resolved after
// objects of type t are upserted.
func (t ObjectType) AssociationTargets() []ObjectType {
	switch t {
	case ObjectCalls:
		return []ObjectType{ObjectContacts, ObjectDeals}
	case ObjectDeals:
		return []ObjectType{ObjectContacts}
	default:
		return nil
	}
}

// Attributes reports whether a sync of t ends with an attribution pass.
func (t ObjectType) Attributes() bool {
	return t == ObjectDeals
}
