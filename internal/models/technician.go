package models

import "irepair-admin/internal/docstore"

// Technician statuses
const (
	TechnicianPending   = "pending"
	TechnicianApproved  = "approved"
	TechnicianRejected  = "rejected"
	TechnicianSuspended = "suspended"
)

// GeoPoint is a latitude/longitude pair
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Technician is a registered repair technician
type Technician struct {
	ID                string    `json:"id"`
	FullName          string    `json:"fullName"`
	Email             Text      `json:"email"`
	Phone             Text      `json:"phone"`
	Address           string    `json:"address"`
	Location          *GeoPoint `json:"location,omitempty"`
	Skills            List      `json:"skills"`
	YearsOfExperience Text      `json:"yearsOfExperience"`
	ShopName          string    `json:"shopName,omitempty"`
	Status            string    `json:"status"`
	HasShop           Flag      `json:"hasShop"`
	CreatedAt         *Time     `json:"createdAt,omitempty"`
	SoftDelete
	Decoding
}

func (t *Technician) RecordID() string    { return t.ID }
func (t *Technician) StatusValue() string { return t.Status }

// Freelance reports an approved technician working without a shop
func (t *Technician) Freelance() bool {
	return t.Status == TechnicianApproved && !bool(t.HasShop) && !t.Deleted()
}

// DecodeTechnician maps a technicians document
func DecodeTechnician(doc docstore.Document) (Record, error) {
	var t Technician
	issues, err := decodeInto(doc, &t)
	if err != nil {
		return nil, err
	}
	t.ID = doc.ID
	t.Issues = issues
	return &t, nil
}
