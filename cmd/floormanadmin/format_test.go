package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ts4z/floorman/model"
	"github.com/ts4z/floorman/paytable"
)

func TestParseDuration(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want time.Duration
	}{
		{"36h", 36 * time.Hour},
		{"1d", 24 * time.Hour},
		{"90m", 90 * time.Minute},
	} {
		got, err := parseDuration(tc.in)
		if err != nil {
			t.Errorf("parseDuration(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := parseDuration("soon"); err == nil {
		t.Error("parseDuration(\"soon\") should fail")
	}
}

func TestPrintPayout(t *testing.T) {
	var buf bytes.Buffer
	printPayout(&buf, &model.Payout{
		TournamentID:        uuid.New(),
		TemplateID:          uuid.New(),
		PlayerCount:         5,
		TotalPrizePoolCents: 1250000,
		Positions: []model.PayoutPosition{
			{Position: 1, AmountCents: 875000, Percentage: 70},
			{Position: 2, AmountCents: 375000, Percentage: 30},
		},
	})
	out := buf.String()
	for _, want := range []string{"5 players", "$12,500", "1st", "$8,750", "2nd", "$3,750", "70.00%"} {
		if !strings.Contains(out, want) {
			t.Errorf("payout output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintTemplates(t *testing.T) {
	ten := 10
	var buf bytes.Buffer
	printTemplates(&buf, []*paytable.Template{
		{ID: uuid.New(), Name: "small", MinPlayers: 2, MaxPlayers: &ten,
			Positions: []paytable.Position{{Position: 1, BasisPoints: 7000}, {Position: 2, BasisPoints: 3000}}},
		{ID: uuid.New(), Name: "big", MinPlayers: 11,
			Positions: []paytable.Position{{Position: 1, BasisPoints: 5000}}},
	})
	out := buf.String()
	for _, want := range []string{"small", "2-10", "70%", "big", "11+", "50%"} {
		if !strings.Contains(out, want) {
			t.Errorf("template output missing %q:\n%s", want, out)
		}
	}
}
