// Package pagination kodiert die Fortsetzungsposition der globalen Drug-Liste als
// opakes Token. Die innere Form des Tokens ist kein Vertrag für Clients.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"drug-analytics/apperrors"
	"drug-analytics/models"
)

const (
	DefaultLimit = 10
	MaxLimit     = 1000
)

// Cursor zeigt auf das letzte ausgelieferte Element einer Seite.
// Sortierung: UploadTimestamp absteigend, dann DrugName, dann RecordID (ebenfalls absteigend).
type Cursor struct {
	UploadTimestamp time.Time
	DrugName        string
	RecordID        string
}

type wireCursor struct {
	TS   int64  `json:"t"`
	Name string `json:"n"`
	ID   string `json:"i"`
}

// After erzeugt den Cursor, der hinter rec fortsetzt.
func After(rec models.DrugRecord) Cursor {
	return Cursor{
		UploadTimestamp: rec.UploadTimestamp.UTC(),
		DrugName:        rec.DrugName,
		RecordID:        rec.RecordID,
	}
}

// Encode serialisiert c als base64url-kodiertes JSON.
func Encode(c Cursor) string {
	raw, _ := json.Marshal(wireCursor{
		TS:   c.UploadTimestamp.UnixNano(),
		Name: c.DrugName,
		ID:   c.RecordID,
	})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode ist die Umkehrung von Encode. Jede Abweichung ergibt ErrInvalidCursor.
func Decode(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: not base64url", apperrors.ErrInvalidCursor)
	}
	var w wireCursor
	if err := json.Unmarshal(raw, &w); err != nil {
		return Cursor{}, fmt.Errorf("%w: undecodable payload", apperrors.ErrInvalidCursor)
	}
	if w.TS <= 0 || w.Name == "" || w.ID == "" {
		return Cursor{}, fmt.Errorf("%w: incomplete position", apperrors.ErrInvalidCursor)
	}
	return Cursor{
		UploadTimestamp: time.Unix(0, w.TS).UTC(),
		DrugName:        w.Name,
		RecordID:        w.ID,
	}, nil
}

// Less meldet, ob rec in der Listenreihenfolge hinter c liegt.
func (c Cursor) Less(rec models.DrugRecord) bool {
	ts := rec.UploadTimestamp
	if !ts.Equal(c.UploadTimestamp) {
		return ts.Before(c.UploadTimestamp)
	}
	if rec.DrugName != c.DrugName {
		return rec.DrugName < c.DrugName
	}
	return rec.RecordID < c.RecordID
}

// NormalizeLimit setzt den Standardwert ein und lehnt Werte außerhalb von [1, MaxLimit] ab.
func NormalizeLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultLimit, nil
	}
	if limit < 0 || limit > MaxLimit {
		return 0, apperrors.ValidationError{
			Field:   "limit",
			Value:   limit,
			Message: fmt.Sprintf("must be between 1 and %d", MaxLimit),
		}
	}
	return limit, nil
}
