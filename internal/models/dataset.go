package models

import "time"

// DatasetAssociation links a DataOwner to a dataset they own.
type DatasetAssociation struct {
	DatasetID  int64     `json:"datasetId"`
	DACUserID  int64     `json:"dacUserId"`
	CreateDate time.Time `json:"createDate"`
}
