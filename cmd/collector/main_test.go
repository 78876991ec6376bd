package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/afroash/room-balance-monitor/internal/models"
)

func TestPrintSummary(t *testing.T) {
	v := decimal.RequireFromString("12.5")
	result := &models.BatchResult{
		RunID:     "run-1",
		StartedAt: time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		Readings: map[models.RoomKey]models.Outcome{
			{Building: "A", Room: "101"}: {Status: models.OutcomeSuccess, Value: &v, Saved: true},
			{Building: "B", Room: "201"}: {Status: models.OutcomeFailed, Reason: "timeout"},
			{Building: "A", Room: "102"}: {Status: models.OutcomeSuccess, Value: &v, SaveError: "disk full"},
		},
		Total:     3,
		Succeeded: 2,
		Failed:    1,
		NotSaved:  1,
	}

	var buf bytes.Buffer
	printSummary(&buf, result)
	out := buf.String()

	for _, want := range []string{"total 3, succeeded 2, failed 1, not saved 1", `"timeout"`, `"not saved: disk full"`} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "A-101") {
		t.Errorf("summary lists a saved room:\n%s", out)
	}
	if strings.Index(out, "A-102") > strings.Index(out, "B-201") {
		t.Errorf("problems not sorted by room key:\n%s", out)
	}
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := printer{out: &buf}

	msgs := []struct {
		msgType models.MessageType
		payload any
		want    string
	}{
		{models.MessageTypeBatchStarted, models.BatchStartedMessage{Total: 2, Trigger: "manual"}, "Sampling 2 rooms (manual)"},
		{models.MessageTypeProgress, models.Progress{Message: "A-101 ok", Total: 2, Completed: 1}, "[1/2] A-101 ok"},
		{models.MessageTypeBatchDone, models.BatchDoneMessage{Succeeded: 1, Failed: 1, Cancelled: true}, "Batch cancelled: 1 succeeded, 1 failed"},
		{models.MessageTypeError, models.ErrorMessage{Code: "empty_catalog", Message: "no rooms"}, "Error (empty_catalog): no rooms"},
	}
	for _, m := range msgs {
		msg, err := models.NewMessage(m.msgType, m.payload)
		if err != nil {
			t.Fatalf("NewMessage failed: %v", err)
		}
		buf.Reset()
		p.Publish(msg)
		if !strings.Contains(buf.String(), m.want) {
			t.Errorf("Publish(%s) = %q, want it to contain %q", m.msgType, buf.String(), m.want)
		}
	}
}
