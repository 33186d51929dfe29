package model

import "time"

// PageRequest asks the CRM for one page of objects.
type PageRequest struct {
	After    string    // opaque paging cursor from the previous page
	Since    time.Time // zero for a full listing
	PageSize int
}

// CrmRecord is one object as returned by the CRM list and search endpoints.
type CrmRecord struct {
	ID         string             `json:"id"`
	Properties map[string]*string `json:"properties"`
	CreatedAt  string             `json:"createdAt"`
	UpdatedAt  string             `json:"updatedAt"`
	Archived   bool               `json:"archived"`
}

// CrmPage is one page of objects plus the cursor for the next page.
type CrmPage struct {
	Items     []CrmRecord
	NextAfter string // empty on the last page
}

// CrmPageResponse is the raw list/search response body.
type CrmPageResponse struct {
	Results []CrmRecord `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

func (r *CrmPageResponse) NextAfter() string {
	if r.Paging == nil || r.Paging.Next == nil {
		return ""
	}
	return r.Paging.Next.After
}

// AssociationTarget is one linked object reported by the association endpoint.
type AssociationTarget struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// AssociationBatchResponse is the raw batch association-read response body.
type AssociationBatchResponse struct {
	Results []struct {
		From struct {
			ID string `json:"id"`
		} `json:"from"`
		To []AssociationTarget `json:"to"`
	} `json:"results"`
}
