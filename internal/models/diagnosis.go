package models

import "irepair-admin/internal/docstore"

// Diagnosis is a technician's assessment of a device
type Diagnosis struct {
	ID            string `json:"id"`
	Category      string `json:"category"`
	Brand         string `json:"brand"`
	Model         string `json:"model"`
	Issue         string `json:"issue"`
	Diagnosis     string `json:"diagnosis"`
	EstimatedCost Text   `json:"estimatedCost"`
}

func DecodeDiagnosis(doc docstore.Document) (*Diagnosis, error) {
	var d Diagnosis
	if _, err := decodeInto(doc, &d); err != nil {
		return nil, err
	}
	d.ID = doc.ID
	return &d, nil
}
