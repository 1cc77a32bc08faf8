package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/arclight-collective/paymaster/internal/webhook"
)

func TestSendReport_EmptyURLIsNoOp(t *testing.T) {
	sender := NewHTTPSender("")
	if err := sender.SendReport(context.Background(), webhook.ReportPayload{EventID: "evt-1"}); err != nil {
		t.Fatalf("expected no error for empty webhook URL, got %v", err)
	}
}

func TestSendReport_PostsJSON(t *testing.T) {
	var got webhook.ReportPayload
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	payload := webhook.ReportPayload{
		EventID:      "evt-1",
		TotalValue:   decimal.NewFromInt(100000),
		TotalMinutes: 195,
		TriggeredBy:  "user-1",
		Lines: []webhook.ReportLine{
			{ParticipantID: "p1", ParticipationMinutes: 70, FinalPayout: decimal.NewFromInt(35898)},
		},
	}
	if err := sender.SendReport(context.Background(), payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("unexpected content type: %s", contentType)
	}
	if got.EventID != "evt-1" || !got.TotalValue.Equal(decimal.NewFromInt(100000)) || len(got.Lines) != 1 {
		t.Errorf("unexpected payload: %+v", got)
	}
	if !got.Lines[0].FinalPayout.Equal(decimal.NewFromInt(35898)) {
		t.Errorf("unexpected line payout: %+v", got.Lines[0])
	}
}

func TestSendReport_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	if err := sender.SendReport(context.Background(), webhook.ReportPayload{EventID: "evt-1"}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
