package insights

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"stridelab-garmin-sync/internal/metrics"
)

// publishConn is the slice of *nats.Conn the publisher needs.
type publishConn interface {
	Publish(subject string, data []byte) error
}

// Job is the message downstream insight generators consume.
type Job struct {
	UserID         string `json:"userId"`
	Date           string `json:"date"`
	ReadinessScore int    `json:"readinessScore"`
	ReadinessState string `json:"readinessState"`
	ComputedAt     int64  `json:"computedAt"`
}

// Publisher hands freshly derived metrics off to the insights pipeline.
// A nil Publisher is valid and publishes nothing.
type Publisher struct {
	conn    publishConn
	subject string
	logger  *slog.Logger
}

func NewPublisher(conn publishConn, subject string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, subject: subject, logger: logger}
}

// Publish is best-effort: the error is returned for observation but a
// failed publish must never fail the derive job that produced the metrics.
func (p *Publisher) Publish(userID, date string, score int, state string) error {
	if p == nil || p.conn == nil {
		return nil
	}

	job := Job{
		UserID:         userID,
		Date:           date,
		ReadinessScore: score,
		ReadinessState: state,
		ComputedAt:     time.Now().Unix(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		metrics.InsightsPublishedTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return fmt.Errorf("marshal insights job: %w", err)
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		metrics.InsightsPublishedTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return fmt.Errorf("publish insights job: %w", err)
	}

	metrics.InsightsPublishedTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	p.logger.Debug("Published insights job", "user_id", userID, "date", date)
	return nil
}
