// Package views defines the admin list views: which documents each shows,
// how they are denormalized, searched and filtered.
package views

import (
	"errors"
	"fmt"

	"irepair-admin/internal/docstore"
	"irepair-admin/internal/models"
	"irepair-admin/internal/resolver"
	"irepair-admin/internal/viewmodel"
)

// ErrUnknownView is returned by Lookup for an undefined view name
var ErrUnknownView = errors.New("unknown view")

// View names
const (
	FreelanceTechnicians = "freelance-technicians"
	Appointments         = "appointments"
	Repairs              = "repairs"
)

// Column is one exported column, read from an item's display values
type Column struct {
	Header string
	Key    string
}

// Definition is everything needed to run one view
type Definition struct {
	Name       string
	Title      string
	Collection string
	Query      docstore.Query
	Resolve    resolver.Spec
	Options    viewmodel.Options
	// Statuses are the values offered by the status filter, besides "all"
	Statuses []string
	Columns  []Column
}

var definitions = []Definition{
	freelanceTechnicians(),
	bookings(Appointments, "Appointments", models.CollectionAppointments, nil, models.GlobalStatuses),
	bookings(Repairs, "Repairs in progress", models.CollectionRepairs,
		[]docstore.Filter{{
			Path:  "status.global",
			Op:    docstore.OpIn,
			Value: []string{models.StatusAccepted, models.StatusRepairing, models.StatusTesting},
		}},
		[]string{models.StatusAccepted, models.StatusRepairing, models.StatusTesting},
	),
}

// All returns every view, in menu order
func All() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Names returns every view name, in menu order
func Names() []string {
	out := make([]string, len(definitions))
	for i, d := range definitions {
		out[i] = d.Name
	}
	return out
}

// Lookup returns the view called name
func Lookup(name string) (Definition, error) {
	for _, d := range definitions {
		if d.Name == name {
			return d, nil
		}
	}
	return Definition{}, fmt.Errorf("%w: %s", ErrUnknownView, name)
}

func freelanceTechnicians() Definition {
	return Definition{
		Name:       FreelanceTechnicians,
		Title:      "Freelance technicians",
		Collection: models.CollectionTechnicians,
		Query: docstore.Query{
			Collection: models.CollectionTechnicians,
			Filters:    []docstore.Filter{{Path: "status", Op: docstore.OpEqual, Value: models.TechnicianApproved}},
			OrderBy:    []docstore.Order{{Path: "createdAt", Desc: true}},
		},
		Resolve: resolver.Spec{
			Decode: models.DecodeTechnician,
			Local: []resolver.Field{
				resolver.NameField("name", resolver.Path("fullName"), resolver.Join(" ", "firstName", "lastName")),
				resolver.ValueField("email", resolver.Path("email")),
				resolver.ValueField("phone", resolver.Path("phone")),
				resolver.ValueField("address", resolver.Path("address")),
				resolver.ValueField("skills", resolver.List("skills", ", ")),
				resolver.ValueField("experience", resolver.Path("yearsOfExperience")),
				resolver.ValueField("status", resolver.Path("status")),
				resolver.ValueField("createdAt", resolver.Path("createdAt")),
			},
		},
		Options: viewmodel.Options{
			SearchKeys: []viewmodel.SearchKey{
				viewmodel.Display("name"),
				viewmodel.Display("email"),
				viewmodel.Display("phone"),
				viewmodel.Display("address"),
				viewmodel.Display("skills"),
			},
			Include: func(item resolver.Item) bool {
				t, ok := item.Record.(*models.Technician)
				return ok && t.Freelance()
			},
		},
		Statuses: []string{models.TechnicianApproved},
		Columns: []Column{
			{Header: "Name", Key: "name"},
			{Header: "Email", Key: "email"},
			{Header: "Phone", Key: "phone"},
			{Header: "Address", Key: "address"},
			{Header: "Skills", Key: "skills"},
			{Header: "Years of experience", Key: "experience"},
			{Header: "Status", Key: "status"},
			{Header: "Registered", Key: "createdAt"},
		},
	}
}

func bookings(name, title, collection string, filters []docstore.Filter, statuses []string) Definition {
	return Definition{
		Name:       name,
		Title:      title,
		Collection: collection,
		Query: docstore.Query{
			Collection: collection,
			Filters:    filters,
			OrderBy:    []docstore.Order{{Path: "createdAt", Desc: true}},
		},
		Resolve: resolver.Spec{
			Decode: models.DecodeBooking,
			Local: []resolver.Field{
				resolver.ValueField("device", resolver.Path("deviceType"), resolver.Path("diagnosisData.category")),
				resolver.ValueField("brand", resolver.Path("diagnosisData.brand")),
				resolver.ValueField("model", resolver.Path("diagnosisData.model")),
				resolver.ValueField("issue", resolver.Path("issue"), resolver.Path("diagnosisData.issue")),
				resolver.ValueField("serviceType", resolver.Path("serviceType")),
				resolver.ValueField("schedule", resolver.Join(" ", "scheduledDate", "scheduledTime")),
				resolver.ValueField("status", resolver.Path("status.global"), resolver.Path("status")),
				resolver.ValueField("estimatedCost", resolver.Path("diagnosisData.estimatedCost")),
				resolver.ValueField("createdAt", resolver.Path("createdAt")),
			},
			References: []resolver.Reference{
				{
					Name:         "user",
					Collection:   models.CollectionUsers,
					IDPath:       "userId",
					EmbeddedPath: "user",
					Fields: []resolver.Field{
						resolver.NameField("userName", resolver.Path("fullName"), resolver.Join(" ", "firstName", "lastName")),
						resolver.ValueField("userEmail", resolver.Path("email")),
						resolver.ValueField("userPhone", resolver.Path("phone")),
					},
				},
				{
					Name:         "technician",
					Collection:   models.CollectionTechnicians,
					IDPath:       "technicianId",
					EmbeddedPath: "technician",
					Fields: []resolver.Field{
						resolver.NameField("technicianName", resolver.Path("fullName"), resolver.Join(" ", "firstName", "lastName")),
						resolver.ValueField("technicianPhone", resolver.Path("phone")),
					},
				},
			},
		},
		Options: viewmodel.Options{
			SearchKeys: []viewmodel.SearchKey{
				viewmodel.Display("userName"),
				viewmodel.Display("technicianName"),
				viewmodel.Raw("deviceType"),
				viewmodel.Raw("diagnosisData.category"),
				viewmodel.Raw("diagnosisData.brand"),
				viewmodel.Raw("diagnosisData.model"),
				viewmodel.Raw("issue"),
				viewmodel.Raw("diagnosisData.issue"),
			},
		},
		Statuses: statuses,
		Columns: []Column{
			{Header: "Customer", Key: "userName"},
			{Header: "Technician", Key: "technicianName"},
			{Header: "Device", Key: "device"},
			{Header: "Brand", Key: "brand"},
			{Header: "Model", Key: "model"},
			{Header: "Issue", Key: "issue"},
			{Header: "Schedule", Key: "schedule"},
			{Header: "Status", Key: "status"},
			{Header: "Estimated cost", Key: "estimatedCost"},
		},
	}
}
