package report

import (
	"encoding/csv"
	"strings"
	"testing"

	"github.com/permitflow/permitflow/internal/types"
)

func TestFormatPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5125551234", "(512) 555-1234"},
		{"(512) 555-1234", "(512) 555-1234"},
		{"1-512-555-1234", "(512) 555-1234"},
		{"512.555.1234 ext 9", "5125551234" + "9"}, // 11 digits, no leading 1
		{"555-1234", "5551234"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FormatPhone(tt.in); got != tt.want {
			t.Errorf("FormatPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildArtifacts(t *testing.T) {
	p := &types.Permit{
		ID:                    1,
		PermitType:            "Building",
		PermitClassMapped:     "Residential",
		IssuedDate:            "2026-08-10",
		Description:           "roof replacement",
		ApplicantAddress:      "100 Main St",
		ContractorName:        "Jane Doe",
		ContractorCompanyName: "Doe Roofing LLC",
		ContractorPhone:       "5125551234",
	}
	sets := &types.ResultSets{
		Inclusion: []*types.Permit{p},
		Exclusion: []types.ExcludedPermit{{Permit: p, Reason: "contained keyword 'solar'"}},
		Semantic:  []types.ScoredPermit{{Permit: p, Score: 0.9}},
	}

	arts, err := Build(sets)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	rows, err := csv.NewReader(strings.NewReader(string(arts.Semantic))).ReadAll()
	if err != nil {
		t.Fatalf("semantic CSV malformed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("semantic CSV has %d rows, want header + 1", len(rows))
	}
	if len(rows[0]) != 8 {
		t.Fatalf("semantic CSV has %d columns, want 8", len(rows[0]))
	}
	if rows[1][6] != "(512) 555-1234" {
		t.Fatalf("contact phone cell = %q", rows[1][6])
	}
	if rows[1][3] != "100 Main St" {
		t.Fatalf("address cell = %q", rows[1][3])
	}

	exRows, err := csv.NewReader(strings.NewReader(string(arts.Exclusion))).ReadAll()
	if err != nil {
		t.Fatalf("exclusion CSV malformed: %v", err)
	}
	if len(exRows[0]) != 9 || exRows[0][8] != "Exclusion Reason" {
		t.Fatalf("exclusion header = %v", exRows[0])
	}
	if exRows[1][8] != "contained keyword 'solar'" {
		t.Fatalf("exclusion reason cell = %q", exRows[1][8])
	}
}

func TestAddressFallsBackToContractor(t *testing.T) {
	p := &types.Permit{ContractorAddress: "200 Trade Rd"}
	row := permitRow(p)
	if row[3] != "200 Trade Rd" {
		t.Fatalf("address cell = %q", row[3])
	}
}
