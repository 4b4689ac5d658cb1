package models

import (
	"testing"
)

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *QueryRequest
		max     int
		wantErr bool
		wantN   int
	}{
		{"empty query", &QueryRequest{Query: "   "}, 50, true, 0},
		{"negative n", &QueryRequest{Query: "x", NResults: -1}, 50, true, 0},
		{"default n", &QueryRequest{Query: "x"}, 50, false, DefaultNResults},
		{"keeps n", &QueryRequest{Query: "x", NResults: 7}, 50, false, 7},
		{"caps n", &QueryRequest{Query: "x", NResults: 500}, 50, false, 50},
		{"no cap", &QueryRequest{Query: "x", NResults: 500}, 0, false, 500},
		{"blank ids only", &QueryRequest{Query: "x", PaperIDs: []string{" ", ""}}, 50, true, 0},
		{"empty ids list", &QueryRequest{Query: "x", PaperIDs: []string{}}, 50, false, DefaultNResults},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(tt.max)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.query.NResults != tt.wantN {
				t.Errorf("NResults = %d, want %d", tt.query.NResults, tt.wantN)
			}
		})
	}
}

func TestQueryRequest_ValidateDropsBlankIDs(t *testing.T) {
	q := &QueryRequest{Query: " what ", PaperIDs: []string{"a", " ", "", " b "}}
	if err := q.Validate(0); err != nil {
		t.Fatal(err)
	}
	if q.Query != "what" {
		t.Errorf("query not trimmed: %q", q.Query)
	}
	if len(q.PaperIDs) != 2 || q.PaperIDs[0] != "a" || q.PaperIDs[1] != "b" {
		t.Errorf("paper ids = %v", q.PaperIDs)
	}
}

func TestSection_PageAt(t *testing.T) {
	s := Section{Page: 3, PageBreaks: []PageBreak{{Offset: 100, Page: 4}, {Offset: 250, Page: 5}}}
	cases := map[int]int{0: 3, 99: 3, 100: 4, 249: 4, 250: 5, 999: 5}
	for off, want := range cases {
		if got := s.PageAt(off); got != want {
			t.Errorf("PageAt(%d) = %d, want %d", off, got, want)
		}
	}
}
