package models

import (
	"encoding/json"
	"time"
)

// ReportKind distinguishes stored report types.
type ReportKind string

const (
	ReportWeekly    ReportKind = "weekly"
	ReportMonthly   ReportKind = "monthly"
	ReportAnalytics ReportKind = "analytics"
)

// Report is a generated report persisted for later export.
type Report struct {
	ID          string          `json:"id"`
	Kind        ReportKind      `json:"kind"`
	GeneratedAt time.Time       `json:"generated_at"`
	Payload     json.RawMessage `json:"payload"`
}

// InviteStatus is the collaborator invitation state for one student.
type InviteStatus string

const (
	InviteAccepted        InviteStatus = "accepted"
	InvitePending         InviteStatus = "pending"
	InviteNotInvited      InviteStatus = "not_invited"
	InviteInvalidUsername InviteStatus = "invalid_username"
)
