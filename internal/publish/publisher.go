// Package publish hands finished incidents and operational alerts to the
// message bus for downstream consumers (SIEM forwarders, case management).
package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/xeipuuv/gojsonschema"

	"custodian/internal/model"
)

// incidentSchema is the wire contract for incident records. Validated
// before every publish so a malformed record never reaches downstream
// consumers.
const incidentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["incident_id", "category", "severity", "command", "detected_at", "reported_at"],
  "properties": {
    "incident_id": {"type": "string", "pattern": "^INC-"},
    "category": {"type": "string"},
    "severity": {"type": "string", "enum": ["LOW", "MEDIUM", "HIGH", "CRITICAL"]},
    "command": {"type": "string"},
    "snapshot_id": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "detected_at": {"type": "string"},
    "reported_at": {"type": "string"}
  }
}`

// Publisher publishes incident records and alerts over NATS.
type Publisher struct {
	natsConn        *nats.Conn
	logger          *slog.Logger
	hostID          string
	incidentSubject string
	alertSubject    string
	schema          *gojsonschema.Schema
}

// NewPublisher creates a publisher bound to the given subjects.
func NewPublisher(natsConn *nats.Conn, logger *slog.Logger, hostID, incidentSubject, alertSubject string) (*Publisher, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(incidentSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile incident schema: %w", err)
	}

	return &Publisher{
		natsConn:        natsConn,
		logger:          logger.With("component", "publisher"),
		hostID:          hostID,
		incidentSubject: incidentSubject,
		alertSubject:    alertSubject,
		schema:          schema,
	}, nil
}

// PublishIncident validates and publishes one incident record.
func (p *Publisher) PublishIncident(record model.IncidentRecord) error {
	if p.natsConn == nil || !p.natsConn.IsConnected() {
		return fmt.Errorf("NATS connection not available")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal incident record: %w", err)
	}

	result, err := p.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to validate incident record: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("incident record violates schema: %v", result.Errors())
	}

	headers := nats.Header{}
	headers.Set("x-incident-id", record.ID)
	headers.Set("x-host-id", p.hostID)
	headers.Set("x-severity", string(record.Severity))
	headers.Set("x-timestamp", record.ReportedAt.Format(time.RFC3339))

	msg := &nats.Msg{
		Subject: p.incidentSubject,
		Data:    data,
		Header:  headers,
	}

	if err := p.natsConn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish incident: %w", err)
	}

	p.logger.Info("incident published",
		"incident_id", record.ID,
		"severity", record.Severity,
		"category", record.Category,
		"subject", p.incidentSubject)

	return nil
}

// PublishAlert publishes an operational alert, e.g. a vault write failure
// that left a preservation action unrecorded.
func (p *Publisher) PublishAlert(kind, message string, fields map[string]any) error {
	if p.natsConn == nil || !p.natsConn.IsConnected() {
		return fmt.Errorf("NATS connection not available")
	}

	alert := map[string]any{
		"kind":      kind,
		"message":   message,
		"host_id":   p.hostID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	for k, v := range fields {
		alert[k] = v
	}

	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	headers := nats.Header{}
	headers.Set("x-alert-kind", kind)
	headers.Set("x-host-id", p.hostID)

	msg := &nats.Msg{
		Subject: p.alertSubject,
		Data:    data,
		Header:  headers,
	}

	if err := p.natsConn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	p.logger.Warn("operational alert published", "kind", kind, "message", message)
	return nil
}
