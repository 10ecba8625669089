package models

import "time"

// VoteType is the capacity in which a vote is cast.
type VoteType string

const (
	VoteTypeDAC         VoteType = "DAC"
	VoteTypeChairperson VoteType = "CHAIRPERSON"
	VoteTypeDataOwner   VoteType = "DATA_OWNER"
	VoteTypeFinal       VoteType = "FINAL"
	VoteTypeAgreement   VoteType = "AGREEMENT"
)

// Vote is one user's decision on an election. A nil Value means not yet cast.
type Vote struct {
	ID           int64      `json:"voteId"`
	ElectionID   int64      `json:"electionId"`
	DACUserID    int64      `json:"dacUserId"`
	Type         VoteType   `json:"type"`
	Value        *bool      `json:"vote"`
	Rationale    string     `json:"rationale,omitempty"`
	ReminderSent bool       `json:"isReminderSent"`
	HasConcerns  bool       `json:"hasConcerns"`
	CreateDate   *time.Time `json:"createDate,omitempty"`
	UpdateDate   *time.Time `json:"updateDate,omitempty"`
}

// Cast reports whether a value has been recorded.
func (v Vote) Cast() bool { return v.Value != nil }

// ReassignedTo returns a fresh, uncast copy of v bound to userID.
// The id is cleared so the copy is inserted as a new row.
func (v Vote) ReassignedTo(userID int64) Vote {
	return Vote{
		ElectionID: v.ElectionID,
		DACUserID:  userID,
		Type:       v.Type,
	}
}
