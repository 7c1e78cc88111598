// Package models holds the typed records decoded from store documents.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"irepair-admin/internal/docstore"
)

// Collection names in the document store
const (
	CollectionTechnicians  = "technicians"
	CollectionAppointments = "appointments"
	CollectionRepairs      = "repairs"
	CollectionDiagnoses    = "diagnoses"
	CollectionUsers        = "users"
)

// Record is implemented by every typed list record
type Record interface {
	RecordID() string
	// StatusValue is the value status filters compare against
	StatusValue() string
	Deleted() bool
	// DecodeIssues names the fields that could not be read as typed
	DecodeIssues() []string
}

// SoftDelete is the audit trail left by a soft-delete
type SoftDelete struct {
	IsDeleted Flag  `json:"isDeleted"`
	DeletedAt *Time `json:"deletedAt,omitempty"`
	DeletedBy Text  `json:"deletedBy,omitempty"`
}

func (s SoftDelete) Deleted() bool { return bool(s.IsDeleted) }

// Decoding is filled by the decoder; a record with issues is still listed
type Decoding struct {
	Issues []string `json:"decodeIssues,omitempty"`
}

func (d Decoding) DecodeIssues() []string { return d.Issues }

// decodeInto maps document fields onto out through their JSON form. A field
// of the wrong JSON type is dropped and reported instead of failing the
// record; its raw value stays in the document for display.
func decodeInto(doc docstore.Document, out any) ([]string, error) {
	fields := doc.Fields
	cloned := false
	var issues []string
	for {
		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
		}
		reflect.ValueOf(out).Elem().SetZero()
		err = json.Unmarshal(raw, out)

		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			if err != nil {
				return nil, fmt.Errorf("failed to decode document %s: %w", doc.ID, err)
			}
			return issues, nil
		}
		issues = append(issues, typeErr.Field)
		if !cloned {
			fields = fields.Clone()
			cloned = true
		}
		// json skips the mismatched field, so out is usable as it stands
		if !dropPath(fields, typeErr.Field) {
			return issues, nil
		}
	}
}

func dropPath(fields docstore.Fields, path string) bool {
	if path == "" {
		return false
	}
	parts := strings.Split(path, ".")
	m := map[string]any(fields)
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]any)
		if !ok {
			return false
		}
		m = next
	}
	last := parts[len(parts)-1]
	if _, ok := m[last]; !ok {
		return false
	}
	delete(m, last)
	return true
}
