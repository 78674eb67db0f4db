package api

import (
	"strings"
	"testing"
)

func TestReadRowsNormalizesHeader(t *testing.T) {
	rows, err := readRows(strings.NewReader("Candidate_ID, Test_ID ,EVENT_TYPE,timestamp\nc1,t1,test_started,2026-01-15\n"))
	if err != nil {
		t.Fatalf("readRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0]["candidate_id"] != "c1" || rows[0]["event_type"] != "test_started" {
		t.Errorf("row = %v, header names not normalized", rows[0])
	}
}

func TestReadRowsShortRecord(t *testing.T) {
	rows, err := readRows(strings.NewReader("candidate_id,test_id,event_type,timestamp\nc1,t1\n"))
	if err != nil {
		t.Fatalf("readRows: %v", err)
	}
	if rows[0]["candidate_id"] != "c1" {
		t.Errorf("row = %v", rows[0])
	}
	if _, ok := rows[0]["timestamp"]; ok {
		t.Error("short record should leave trailing fields unset")
	}
}

func TestReadRowsEmptyInput(t *testing.T) {
	rows, err := readRows(strings.NewReader(""))
	if err != nil {
		t.Fatalf("readRows on empty input: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %d, want 0", len(rows))
	}
}
