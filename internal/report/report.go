// Package report renders the three per-client result sets into the CSV
// artifacts handed to the deliverer.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/permitflow/permitflow/internal/types"
)

// Column layout shared by all three reports.
var headers = []string{
	"Project Scope",
	"Permit Type",
	"Date Issued",
	"Address",
	"Description",
	"Contractor Name",
	"Contact Phone",
	"Business Name",
}

// Artifacts are the rendered reports for one client, one CSV per result set.
type Artifacts struct {
	Inclusion []byte
	Exclusion []byte
	Semantic  []byte
}

// Build renders the result sets. Every row is expected to have passed the
// phone gate already; rows without a phone still render with a blank cell
// rather than failing the report.
func Build(sets *types.ResultSets) (*Artifacts, error) {
	inclusion, err := renderPermits(sets.Inclusion)
	if err != nil {
		return nil, fmt.Errorf("inclusion report: %w", err)
	}
	exclusion, err := renderExcluded(sets.Exclusion)
	if err != nil {
		return nil, fmt.Errorf("exclusion report: %w", err)
	}
	semantic, err := renderScored(sets.Semantic)
	if err != nil {
		return nil, fmt.Errorf("semantic report: %w", err)
	}
	return &Artifacts{Inclusion: inclusion, Exclusion: exclusion, Semantic: semantic}, nil
}

func permitRow(p *types.Permit) []string {
	address := p.ApplicantAddress
	if address == "" {
		address = p.ContractorAddress
	}
	return []string{
		p.PermitClassMapped,
		p.PermitType,
		p.IssuedDate,
		address,
		p.Description,
		p.ContractorName,
		FormatPhone(p.BestPhone()),
		p.ContractorCompanyName,
	}
}

func renderPermits(permits []*types.Permit) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return nil, err
	}
	for _, p := range permits {
		if err := w.Write(permitRow(p)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func renderScored(permits []types.ScoredPermit) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return nil, err
	}
	for _, sp := range permits {
		if err := w.Write(permitRow(sp.Permit)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func renderExcluded(permits []types.ExcludedPermit) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append(append([]string(nil), headers...), "Exclusion Reason")); err != nil {
		return nil, err
	}
	for _, ex := range permits {
		if err := w.Write(append(permitRow(ex.Permit), ex.Reason)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// FormatPhone renders a US phone as (XXX) XXX-XXXX when it has exactly ten
// digits (a leading country 1 is stripped). Anything else passes through
// digits-only; empty input stays empty.
func FormatPhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) == 10 {
		return fmt.Sprintf("(%s) %s-%s", d[0:3], d[3:6], d[6:10])
	}
	return d
}
