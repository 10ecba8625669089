package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DAR status values.
const (
	DARStatusOpen     = "Open"
	DARStatusCanceled = "Canceled"
)

// DataAccessRequest is a researcher's request to use datasets. The form
// itself is kept as an opaque JSON document.
type DataAccessRequest struct {
	ReferenceID uuid.UUID       `json:"referenceId"`
	UserID      int64           `json:"userId"`
	DarCode     string          `json:"darCode"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	CreateDate  time.Time       `json:"createDate"`
	UpdateDate  time.Time       `json:"updateDate"`
}
