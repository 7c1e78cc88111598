package httpapi

import (
	"irepair-admin/internal/detail"
	"irepair-admin/internal/docstore"
	"irepair-admin/internal/livesync"
	"irepair-admin/internal/models"
	"irepair-admin/internal/resolver"
	"irepair-admin/internal/session"
	"irepair-admin/internal/viewmodel"
	"irepair-admin/internal/views"
)

type viewDTO struct {
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	Statuses []string `json:"statuses"`
}

type sessionDTO struct {
	ID   string  `json:"id"`
	View viewDTO `json:"view"`
}

type itemDTO struct {
	ID      string            `json:"id"`
	Status  string            `json:"status"`
	Display map[string]string `json:"display"`
	Record  any               `json:"record"`
	Fields  docstore.Fields   `json:"fields"`
}

type modelDTO struct {
	Seq       uint64         `json:"seq"`
	State     string         `json:"state"`
	Loading   bool           `json:"loading"`
	Error     string         `json:"error,omitempty"`
	Retryable bool           `json:"retryable"`
	Term      string         `json:"q"`
	Status    string         `json:"status"`
	Total     int            `json:"total"`
	Statuses  map[string]int `json:"statuses"`
	Items     []itemDTO      `json:"items"`
}

type diagnosisDTO struct {
	Status string            `json:"status"`
	Data   *models.Diagnosis `json:"data,omitempty"`
	Error  string            `json:"error,omitempty"`
}

type detailDTO struct {
	Selected  *itemDTO       `json:"selected"`
	Phase     string         `json:"phase"`
	Error     string         `json:"error,omitempty"`
	Diagnosis diagnosisDTO   `json:"diagnosis"`
	Progress  []models.Stage `json:"progress,omitempty"`
}

func toViewDTO(def views.Definition) viewDTO {
	statuses := append([]string{viewmodel.StatusAll}, def.Statuses...)
	return viewDTO{Name: def.Name, Title: def.Title, Statuses: statuses}
}

func toItemDTO(item resolver.Item) itemDTO {
	dto := itemDTO{ID: item.ID, Display: item.Display, Record: item.Record, Fields: item.Fields}
	if item.Record != nil {
		dto.Status = item.Record.StatusValue()
	}
	return dto
}

func toModelDTO(m session.Model, term, status string) modelDTO {
	items := make([]itemDTO, len(m.Items))
	for i, item := range m.Items {
		items[i] = toItemDTO(item)
	}
	dto := modelDTO{
		Seq:       m.Seq,
		State:     string(m.State),
		Loading:   m.State == livesync.StateLoading,
		Retryable: m.Retryable,
		Term:      term,
		Status:    status,
		Total:     len(items),
		Statuses:  m.Statuses,
		Items:     items,
	}
	if m.Err != nil {
		dto.Error = m.Err.Error()
	}
	return dto
}

func toDetailDTO(st detail.State) detailDTO {
	dto := detailDTO{
		Phase:     string(st.Phase),
		Diagnosis: diagnosisDTO{Status: string(st.Diagnosis.Status), Data: st.Diagnosis.Data},
	}
	if st.Err != nil {
		dto.Error = st.Err.Error()
	}
	if st.Diagnosis.Err != nil {
		dto.Diagnosis.Error = st.Diagnosis.Err.Error()
	}
	if st.Selected != nil {
		item := toItemDTO(*st.Selected)
		dto.Selected = &item
		if b, ok := st.Selected.Record.(*models.Booking); ok {
			dto.Progress = b.Progress()
		}
	}
	return dto
}
