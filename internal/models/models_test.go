// Package models tests for activity model helpers.
package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// =====================================================
// PendingActivity Tests
// =====================================================

// TestPendingActivity_IsSyncable verifies which statuses are offered for delivery.
func TestPendingActivity_IsSyncable(t *testing.T) {
	tests := []struct {
		name   string
		status ActivityStatus
		retry  int
		want   bool
	}{
		{"pending", StatusPending, 0, true},
		{"failed once", StatusFailed, 1, true},
		{"failed below limit", StatusFailed, MaxRetries - 1, true},
		{"failed at limit", StatusFailed, MaxRetries, false},
		{"failed above limit", StatusFailed, MaxRetries + 2, false},
		{"confirmed", StatusConfirmed, 0, false},
		{"confirmed after retries", StatusConfirmed, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &PendingActivity{Status: tt.status, RetryCount: tt.retry}
			if got := a.IsSyncable(); got != tt.want {
				t.Errorf("IsSyncable() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestPendingActivity_IsExhausted verifies the exhaustion boundary.
func TestPendingActivity_IsExhausted(t *testing.T) {
	if (&PendingActivity{Status: StatusFailed, RetryCount: MaxRetries - 1}).IsExhausted() {
		t.Error("record below the limit should not be exhausted")
	}
	if !(&PendingActivity{Status: StatusFailed, RetryCount: MaxRetries}).IsExhausted() {
		t.Error("record at the limit should be exhausted")
	}
	if (&PendingActivity{Status: StatusPending, RetryCount: MaxRetries}).IsExhausted() {
		t.Error("only failed records can be exhausted")
	}
}

// TestPendingActivity_jsonLayout verifies the persisted field names.
func TestPendingActivity_jsonLayout(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	a := PendingActivity{
		LocalID:    "local-1",
		OwnerID:    "user-1",
		Text:       "Wrote tests",
		LoggedAt:   at,
		CreatedAt:  at,
		Status:     StatusPending,
		RetryCount: 0,
	}

	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	for _, field := range []string{`"localId"`, `"ownerId"`, `"text"`, `"loggedAt"`, `"createdAt"`, `"status":"pending"`, `"retryCount":0`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("marshalled record %s missing %s", data, field)
		}
	}
}

// =====================================================
// PendingActivityInput Tests
// =====================================================

// TestPendingActivityInput_Validate verifies required fields.
func TestPendingActivityInput_Validate(t *testing.T) {
	now := time.Now()
	valid := PendingActivityInput{LocalID: "local-1", OwnerID: "user-1", Text: "Reviewed PR", LoggedAt: now, CreatedAt: now}

	if err := valid.Validate(); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(in *PendingActivityInput)
	}{
		{"blank text", func(in *PendingActivityInput) { in.Text = "   \n\t" }},
		{"missing owner", func(in *PendingActivityInput) { in.OwnerID = "" }},
		{"missing local id", func(in *PendingActivityInput) { in.LocalID = "" }},
		{"zero logged_at", func(in *PendingActivityInput) { in.LoggedAt = time.Time{} }},
		{"zero created_at", func(in *PendingActivityInput) { in.CreatedAt = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			if err := in.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// =====================================================
// DateRange Tests
// =====================================================

// TestDayRange verifies day boundaries in a fixed zone.
func TestDayRange(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2026, 10, 19, 23, 30, 0, 0, loc)

	r := DayRange(at, loc)

	wantStart := time.Date(2026, 10, 19, 0, 0, 0, 0, loc)
	if !r.Start.Equal(wantStart) {
		t.Errorf("Start = %v, want %v", r.Start, wantStart)
	}
	if !r.End.Equal(wantStart.Add(24 * time.Hour)) {
		t.Errorf("End = %v, want next midnight", r.End)
	}
	if !r.Contains(at) {
		t.Error("range should contain its own instant")
	}
	if r.Contains(r.End) {
		t.Error("range end is exclusive")
	}
	if !r.Contains(r.Start) {
		t.Error("range start is inclusive")
	}
	if !r.Valid() {
		t.Error("day range should be valid")
	}
	if (DateRange{}).Valid() {
		t.Error("zero range should be invalid")
	}
}
