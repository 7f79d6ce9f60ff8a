package models

import (
	"fmt"
	"time"
)

// DrugCandidate ist eine validierte CSV-Zeile, die noch nicht persistiert wurde.
type DrugCandidate struct {
	RowNumber int     `json:"row_number"`
	DrugName  string  `json:"drug_name"`
	Target    string  `json:"target"`
	Efficacy  float64 `json:"efficacy"`
}

// DrugRecord repräsentiert eine persistierte Zeile aus einem verarbeiteten Upload.
// Einmal geschrieben, wird ein DrugRecord nie mehr verändert.
type DrugRecord struct {
	RecordID        string    `json:"record_id" gorm:"column:record_id;primaryKey"`
	DrugName        string    `json:"drug_name" gorm:"column:drug_name;not null;index;index:idx_drug_listing,priority:2"`
	Target          string    `json:"target" gorm:"column:target;not null"`
	Efficacy        float64   `json:"efficacy" gorm:"column:efficacy;not null"`
	UploadTimestamp time.Time `json:"upload_timestamp" gorm:"column:upload_timestamp;not null;index:idx_drug_listing,priority:1"`
	SourceUploadID  string    `json:"source_upload_id" gorm:"column:source_upload_id;not null;index"`
	RowNumber       int       `json:"row_number" gorm:"column:row_number;not null"`
}

// TableName gibt explizit den Tabellennamen an.
func (DrugRecord) TableName() string {
	return "drug_records"
}

// RecordID bildet die eindeutige ID einer Zeile innerhalb eines Uploads.
func RecordID(uploadID string, row int) string {
	return fmt.Sprintf("%s#%06d", uploadID, row)
}

// NewDrugRecords wandelt Kandidaten in persistierbare Records mit gemeinsamem Zeitstempel um.
// Der Zeitstempel wird auf Mikrosekunden gekürzt, die feinste Auflösung, die PostgreSQL speichert.
func NewDrugRecords(uploadID string, ts time.Time, candidates []DrugCandidate) []DrugRecord {
	ts = ts.UTC().Truncate(time.Microsecond)
	records := make([]DrugRecord, 0, len(candidates))
	for _, c := range candidates {
		records = append(records, DrugRecord{
			RecordID:        RecordID(uploadID, c.RowNumber),
			DrugName:        c.DrugName,
			Target:          c.Target,
			Efficacy:        c.Efficacy,
			UploadTimestamp: ts,
			SourceUploadID:  uploadID,
			RowNumber:       c.RowNumber,
		})
	}
	return records
}
