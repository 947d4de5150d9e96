// Package types defines core data structures for the permitflow lead engine.
package types

import (
	"strings"
	"time"
)

// Permit is the canonical building-permit record. Rows are immutable once
// inserted; re-ingesting the same (city, permit_number) pair is a no-op.
type Permit struct {
	ID                    int64     `json:"id"`
	City                  string    `json:"city"`
	PermitNumber          string    `json:"permit_number"`
	PermitType            string    `json:"permit_type,omitempty"`
	PermitClassMapped     string    `json:"permit_class_mapped,omitempty"`
	WorkClass             string    `json:"work_class,omitempty"`
	CurrentStatus         string    `json:"current_status,omitempty"`
	Description           string    `json:"description,omitempty"`
	AppliedDate           string    `json:"applied_date,omitempty"` // YYYY-MM-DD, may be empty
	IssuedDate            string    `json:"issued_date,omitempty"`  // YYYY-MM-DD, may be empty
	ApplicantName         string    `json:"applicant_name,omitempty"`
	ApplicantAddress      string    `json:"applicant_address,omitempty"`
	ContractorName        string    `json:"contractor_name,omitempty"`
	ContractorAddress     string    `json:"contractor_address,omitempty"`
	ContractorCompanyName string    `json:"contractor_company_name,omitempty"`
	ContractorPhone       string    `json:"contractor_phone,omitempty"`
	CreatedAt             time.Time `json:"created_at,omitempty"`
}

// RawPermit is a scraper row before normalization: source-specific keys
// mapped onto string values.
type RawPermit map[string]string

// Get returns the first non-empty value among the given keys.
func (r RawPermit) Get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(r[k]); v != "" {
			return v
		}
	}
	return ""
}

// ContactFields are the recognized phone columns, in lookup order. A permit
// with no digits in any of them is withheld from delivery.
var ContactFields = []string{
	"contractor_phone",
	"applicant_phone",
	"phone",
	"contact_phone",
	"business_phone",
	"company_phone",
	"contractor_company_phone",
}

// ContactField returns the permit's value for one of the recognized contact
// fields. Only contractor_phone is stored on the canonical record today; the
// remaining names exist so source-specific extras keep working if the schema
// grows columns for them.
func (p *Permit) ContactField(name string) string {
	switch name {
	case "contractor_phone":
		return p.ContractorPhone
	default:
		return ""
	}
}

// BestPhone returns the first contact field containing at least one digit.
func (p *Permit) BestPhone() string {
	for _, f := range ContactFields {
		if v := p.ContactField(f); hasDigit(v) {
			return v
		}
	}
	return ""
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
