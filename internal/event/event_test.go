package event

import (
	"testing"
	"time"
)

func TestPeriod(t *testing.T) {
	tests := []struct {
		name string
		date time.Time
		want string
	}{
		{
			name: "plain date",
			date: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
			want: "2024-03",
		},
		{
			name: "end of month in positive offset rolls into next month",
			date: time.Date(2024, 3, 31, 23, 30, 0, 0, time.FixedZone("CEST", 2*3600)),
			want: "2024-03",
		},
		{
			name: "start of month in negative offset stays in previous month",
			date: time.Date(2024, 4, 1, 1, 0, 0, 0, time.FixedZone("BRT", -3*3600)),
			want: "2024-04",
		},
		{
			name: "zero date",
			date: time.Time{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &SpendingEvent{Date: tt.date}
			if got := e.Period(); got != tt.want {
				t.Errorf("Period() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	base := func() *SpendingEvent {
		return NewSpendingRecorded("tx-1", "u1", 15, "Food", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid event: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*SpendingEvent)
	}{
		{"wrong type", func(e *SpendingEvent) { e.Type = "INCOME_RECORDED" }},
		{"missing user", func(e *SpendingEvent) { e.UserID = "" }},
		{"missing category", func(e *SpendingEvent) { e.Category = "" }},
		{"zero amount", func(e *SpendingEvent) { e.Amount = 0 }},
		{"negative amount", func(e *SpendingEvent) { e.Amount = -3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := base()
			tt.mutate(e)
			if err := e.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestFromJSONToleratesUnknownFields(t *testing.T) {
	raw := []byte(`{
		"type": "SPENDING_RECORDED",
		"transactionId": "tx-9",
		"userId": "u1",
		"amount": 12.5,
		"category": "Food",
		"date": "2024-03-05T00:00:00Z",
		"occurredAt": "2024-03-05T10:00:00Z",
		"futureField": {"nested": true}
	}`)

	e, err := SpendingEventFromJSON(raw)
	if err != nil {
		t.Fatalf("SpendingEventFromJSON: %v", err)
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if e.TransactionID != "tx-9" || e.Amount != 12.5 {
		t.Errorf("decoded event = %+v", e)
	}
}

func TestFromJSONMalformed(t *testing.T) {
	if _, err := SpendingEventFromJSON([]byte("not-json")); err == nil {
		t.Error("SpendingEventFromJSON should fail on malformed payload")
	}
}
