package workflow_test

import (
	"testing"
	"time"

	"github.com/warp/replenishment-engine/workflow"
)

func TestNumberPrefix_Format(t *testing.T) {
	at := time.Date(2025, time.March, 7, 10, 30, 0, 0, time.UTC)

	if got := workflow.NumberPrefix(workflow.KindRequest, at); got != "SR202503" {
		t.Errorf("request prefix = %q, want SR202503", got)
	}
	if got := workflow.NumberPrefix(workflow.KindShipment, at); got != "SH202503" {
		t.Errorf("shipment prefix = %q, want SH202503", got)
	}
}

func TestNumberPrefix_MonthRollover(t *testing.T) {
	// GIVEN: Consecutive requests straddling a month boundary
	nov := time.Date(2025, time.November, 30, 23, 59, 0, 0, time.UTC)
	dec := time.Date(2025, time.December, 1, 0, 1, 0, 0, time.UTC)

	// THEN: The prefixes differ, so December restarts at 0001
	if workflow.NumberPrefix(workflow.KindRequest, nov) == workflow.NumberPrefix(workflow.KindRequest, dec) {
		t.Error("expected distinct prefixes across the month boundary")
	}
}

func TestNextNumber(t *testing.T) {
	tests := []struct {
		name   string
		last   string
		want   string
		hasErr bool
	}{
		{name: "first of month", last: "", want: "SR2025110001"},
		{name: "increment", last: "SR2025110001", want: "SR2025110002"},
		{name: "zero padding kept", last: "SR2025110009", want: "SR2025110010"},
		{name: "malformed tail", last: "SR202511xxxx", hasErr: true},
		{name: "too short", last: "SR", hasErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := workflow.NextNumber("SR202511", tt.last)
			if tt.hasErr {
				if err == nil {
					t.Fatalf("NextNumber(%q) expected error, got %q", tt.last, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NextNumber(%q) unexpected error: %v", tt.last, err)
			}
			if got != tt.want {
				t.Errorf("NextNumber(%q) = %q, want %q", tt.last, got, tt.want)
			}
		})
	}
}
