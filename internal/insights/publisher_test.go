package insights

import (
	"encoding/json"
	"errors"
	"testing"
)

type fakeConn struct {
	subject string
	data    []byte
	err     error
	calls   int
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.calls++
	f.subject = subject
	f.data = data
	return f.err
}

func TestPublishMarshalsJob(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "insights.derive", nil)

	if err := p.Publish("user-1", "2026-08-29", 72, "steady"); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	if conn.subject != "insights.derive" {
		t.Errorf("Expected subject insights.derive, got %q", conn.subject)
	}

	var job Job
	if err := json.Unmarshal(conn.data, &job); err != nil {
		t.Fatalf("Failed to unmarshal job: %v", err)
	}
	if job.UserID != "user-1" || job.Date != "2026-08-29" {
		t.Errorf("Unexpected job identity: %+v", job)
	}
	if job.ReadinessScore != 72 || job.ReadinessState != "steady" {
		t.Errorf("Unexpected job payload: %+v", job)
	}
	if job.ComputedAt == 0 {
		t.Error("Expected ComputedAt to be set")
	}
}

func TestPublishSurfacesConnError(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	p := NewPublisher(conn, "insights.derive", nil)

	if err := p.Publish("user-1", "2026-08-29", 50, "caution"); err == nil {
		t.Fatal("Expected publish error")
	}
}

func TestNilPublisherIsNoOp(t *testing.T) {
	var p *Publisher
	if err := p.Publish("user-1", "2026-08-29", 50, "caution"); err != nil {
		t.Fatalf("Expected nil publisher to no-op, got %v", err)
	}
}
