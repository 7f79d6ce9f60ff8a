package models

import "time"

// UploadState ist der Zustand eines Ingestion-Jobs.
type UploadState string

const (
	StatePending    UploadState = "pending"
	StateProcessing UploadState = "processing"
	StateCompleted  UploadState = "completed"
	StateFailed     UploadState = "failed"
)

// Terminal meldet, ob aus dem Zustand kein Übergang mehr erlaubt ist.
func (s UploadState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// UploadStatus beschreibt den Lebenszyklus eines Uploads.
type UploadStatus struct {
	UploadID      string      `json:"upload_id" gorm:"column:upload_id;primaryKey"`
	Status        UploadState `json:"status" gorm:"column:status;not null;index"`
	Filename      string      `json:"filename" gorm:"column:filename;not null"`
	BlobKey       string      `json:"s3_key" gorm:"column:blob_key;not null"`
	CreatedAt     time.Time   `json:"created_at" gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt     time.Time   `json:"updated_at" gorm:"column:updated_at;not null;autoUpdateTime:false"`
	TotalRows     int         `json:"total_rows" gorm:"column:total_rows;not null;default:0"`
	ProcessedRows int         `json:"processed_rows" gorm:"column:processed_rows;not null;default:0"`
	ErrorMessage  *string     `json:"error_message" gorm:"column:error_message"`
}

// TableName gibt explizit den Tabellennamen an.
func (UploadStatus) TableName() string {
	return "upload_statuses"
}

// StatusFields sind die Felder, die ein Statusübergang zusätzlich setzen darf.
// nil bedeutet: Feld bleibt unverändert.
type StatusFields struct {
	TotalRows     *int
	ProcessedRows *int
	ErrorMessage  *string
}

// StatusUpdate ist der vollständige bedingte Schreibauftrag an den Record Store.
type StatusUpdate struct {
	Expected UploadState
	Next     UploadState
	Fields   StatusFields
	At       time.Time
}

// Apply wendet das Update auf eine Kopie von s an. Die Bedingung prüft der Store.
func (u StatusUpdate) Apply(s UploadStatus) UploadStatus {
	s.Status = u.Next
	s.UpdatedAt = u.At
	if u.Fields.TotalRows != nil {
		s.TotalRows = *u.Fields.TotalRows
	}
	if u.Fields.ProcessedRows != nil {
		s.ProcessedRows = *u.Fields.ProcessedRows
	}
	s.ErrorMessage = nil
	if u.Next == StateFailed && u.Fields.ErrorMessage != nil {
		msg := *u.Fields.ErrorMessage
		s.ErrorMessage = &msg
	}
	return s
}

// IntPtr gibt einen Pointer auf n zurück.
func IntPtr(n int) *int {
	return &n
}

// StringPtr gibt einen Pointer auf s zurück.
func StringPtr(s string) *string {
	return &s
}
