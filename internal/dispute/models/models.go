package models

import (
	"time"
)

type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusPartial   Status = "PARTIAL"
	StatusEscalated Status = "ESCALATED"
)

func (s Status) IsResolution() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusPartial
}

type ClaimantRole string

const (
	RoleTenant   ClaimantRole = "TENANT"
	RoleLandlord ClaimantRole = "LANDLORD"
)

func (r ClaimantRole) IsValid() bool {
	return r == RoleTenant || r == RoleLandlord
}

type EvidenceType string

const (
	EvidenceClaimant   EvidenceType = "CLAIMANT"
	EvidenceRespondent EvidenceType = "RESPONDENT"
)

// Actor roles with special handling.
const (
	ActorAdmin  = "ADMIN"
	ActorSystem = "SYSTEM"
)

const (
	DeadlineWindow     = 14 * 24 * time.Hour
	MaxEvidencePerSide = 10
	MaxEvidenceTotal   = 20
)

type Dispute struct {
	ID             string
	ContractID     string
	ClaimantID     string
	ClaimantRole   ClaimantRole
	ClaimAmount    int64
	Description    string
	InternalNotes  string
	Status         Status
	ApprovedAmount *int64
	Deadline       time.Time
	Evidence       []Evidence
	Resolution     *Resolution
	Escalation     *Escalation
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CountEvidence returns how many items each side has submitted.
func (d *Dispute) CountEvidence() (claimant, respondent int) {
	for _, e := range d.Evidence {
		switch e.Type {
		case EvidenceClaimant:
			claimant++
		case EvidenceRespondent:
			respondent++
		}
	}
	return claimant, respondent
}

func (d *Dispute) Clone() *Dispute {
	c := *d
	c.Evidence = append([]Evidence(nil), d.Evidence...)
	if d.ApprovedAmount != nil {
		v := *d.ApprovedAmount
		c.ApprovedAmount = &v
	}
	if d.Resolution != nil {
		r := *d.Resolution
		c.Resolution = &r
	}
	if d.Escalation != nil {
		e := *d.Escalation
		c.Escalation = &e
	}
	return &c
}

type Evidence struct {
	ID          string
	DisputeID   string
	URL         string
	SubmittedBy string
	Type        EvidenceType
	Order       int
	CreatedAt   time.Time
}

type Resolution struct {
	ResolvedBy string
	ResolvedAt time.Time
	Reason     string
}

type Escalation struct {
	EscalatedBy string
	EscalatedAt time.Time
	Reason      string
}

// FinancialOutcome is the money consequence of a resolution. A refund is
// due to the claimant when any amount was approved.
type FinancialOutcome struct {
	DisputeID      string
	ContractID     string
	Status         Status
	ClaimAmount    int64
	ApprovedAmount int64
	RefundDue      bool
	PayeeID        string
	RecordedAt     time.Time
}

// ContractParties are the two sides of a tenancy contract.
type ContractParties struct {
	ContractID string
	TenantID   string
	LandlordID string
}

func (p *ContractParties) IsParty(userID string) bool {
	return userID != "" && (userID == p.TenantID || userID == p.LandlordID)
}

type CreateCommand struct {
	ContractID   string
	ClaimantID   string
	ClaimantRole ClaimantRole
	ClaimAmount  int64
	Description  string
	EvidenceURLs []string
}

type ResolveCommand struct {
	DisputeID      string
	Status         Status
	ApprovedAmount int64
	ResolvedBy     string
	ActorRole      string
	Reason         string
}

// UpdateCommand changes descriptive fields. Nil pointers are left alone.
type UpdateCommand struct {
	DisputeID     string
	ActorID       string
	ActorRole     string
	Description   *string
	InternalNotes *string
}

type ListFilter struct {
	Status     Status
	ContractID string
}

// ListQuery is what the store evaluates. A nil Visibility means every
// dispute is visible.
type ListQuery struct {
	Status     Status
	ContractID string
	Visibility *Visibility
}

// Visibility restricts results to disputes the user filed or that belong to
// one of their contracts.
type Visibility struct {
	UserID      string
	ContractIDs []string
}

type SweepResult struct {
	Processed int      `json:"processed"`
	Approved  int      `json:"approved"`
	Rejected  int      `json:"rejected"`
	Escalated int      `json:"escalated"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}
