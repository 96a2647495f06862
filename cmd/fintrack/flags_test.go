package main

import (
	"errors"
	"testing"
	"time"
)

func TestIdArg(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int64
		wantErr bool
	}{
		{name: "id first", args: []string{"7", "--amount", "3"}, want: 7},
		{name: "id last", args: []string{"--amount", "3", "7"}, want: 7},
		{name: "missing", args: []string{"--amount", "3"}, wantErr: true},
		{name: "two ids", args: []string{"7", "8"}, wantErr: true},
		{name: "zero", args: []string{"0"}, wantErr: true},
		{name: "not a number", args: []string{"abc"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFlagSet("edit")
			fs.String("amount", "", "")
			got, err := idArg(fs, tt.args)
			if tt.wantErr {
				if !errors.Is(err, errUsage) {
					t.Fatalf("idArg(%v) error = %v, want errUsage", tt.args, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("idArg(%v) = %d, %v; want %d", tt.args, got, err, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2025-06-15", want: time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)},
		{in: " 2025-01-02 ", want: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{in: "2025-06-15T10:30:00+02:00", want: time.Date(2025, 6, 15, 8, 30, 0, 0, time.UTC)},
		{in: "15/06/2025", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseDate(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseDate(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || !got.Equal(tt.want) {
			t.Errorf("parseDate(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestParseMonth(t *testing.T) {
	got, err := parseMonth("2025-02")
	if err != nil {
		t.Fatalf("parseMonth: %v", err)
	}
	if got.Year() != 2025 || got.Month() != time.February || got.Day() != 15 {
		t.Errorf("parseMonth(2025-02) = %v", got)
	}
	if _, err := parseMonth("2025-13"); !errors.Is(err, errUsage) {
		t.Errorf("expected usage error for month 13, got %v", err)
	}
}

func TestParseCategoryRef(t *testing.T) {
	for in, want := range map[string]int64{"": 0, "none": 0, "NONE": 0, "3": 3} {
		got, err := parseCategoryRef(in)
		if err != nil || got != want {
			t.Errorf("parseCategoryRef(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	if _, err := parseCategoryRef("-1"); err == nil {
		t.Error("negative category id should be rejected")
	}
}

func TestSplitKeywords(t *testing.T) {
	got := splitKeywords(" uber, taxi ,,metro ")
	want := []string{"uber", "taxi", "metro"}
	if len(got) != len(want) {
		t.Fatalf("splitKeywords = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitKeywords = %v, want %v", got, want)
		}
	}
	if splitKeywords("") != nil {
		t.Error("empty input should give no keywords")
	}
}
