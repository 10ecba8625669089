package models

import "time"

// ElectionType identifies what an election decides on.
type ElectionType string

const (
	ElectionTypeDataAccess   ElectionType = "DataAccess"
	ElectionTypeTranslateDUL ElectionType = "TranslateDUL"
	ElectionTypeRP           ElectionType = "RP"
	ElectionTypeDataSet      ElectionType = "DataSet"
)

// Valid reports whether t is a known election type.
func (t ElectionType) Valid() bool {
	switch t {
	case ElectionTypeDataAccess, ElectionTypeTranslateDUL, ElectionTypeRP, ElectionTypeDataSet:
		return true
	}
	return false
}

// ElectionStatus is the lifecycle state of an election.
type ElectionStatus string

const (
	ElectionStatusOpen     ElectionStatus = "Open"
	ElectionStatusClosed   ElectionStatus = "Closed"
	ElectionStatusFinal    ElectionStatus = "Final"
	ElectionStatusCanceled ElectionStatus = "Canceled"
)

// Terminal reports whether no further votes are expected in this status.
func (s ElectionStatus) Terminal() bool {
	return s != ElectionStatusOpen
}

// Election is a decision process on a DAR, a consent or a dataset.
type Election struct {
	ID             int64          `json:"electionId"`
	Type           ElectionType   `json:"electionType"`
	Status         ElectionStatus `json:"status"`
	ReferenceID    string         `json:"referenceId"`
	FinalVote      *bool          `json:"finalVote,omitempty"`
	FinalRationale string         `json:"finalRationale,omitempty"`
	FinalVoteDate  *time.Time     `json:"finalVoteDate,omitempty"`
	CreateDate     time.Time      `json:"createDate"`
	LastUpdate     *time.Time     `json:"lastUpdate,omitempty"`
}
