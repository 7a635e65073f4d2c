// Package events publishes control-plane notifications over NATS.
//
// Publishing is fire and forget: a committed registry or enforcement change
// must never be failed retroactively because the event bus is down, so
// delivery errors are logged and dropped. The publisher is nil-safe and a
// disabled configuration yields a no-op publisher, which keeps call sites
// free of conditionals.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects, published under the configured prefix.
const (
	SubjectTenantCreated = "tenant.created"
	SubjectTenantDeleted = "tenant.deleted"
	SubjectGrantChanged  = "grant.changed"
	SubjectPhaseChanged  = "enforcement.transition"
	SubjectAuditRecorded = "audit.recorded"
)

// TenantCreated announces a new registry entry.
type TenantCreated struct {
	Tenant      string    `json:"tenant"`
	DisplayName string    `json:"display_name,omitempty"`
	AccessLevel string    `json:"access_level"`
	At          time.Time `json:"at"`
}

// TenantDeleted announces a registry removal.
type TenantDeleted struct {
	Tenant string    `json:"tenant"`
	Forced bool      `json:"forced"`
	At     time.Time `json:"at"`
}

// GrantChanged announces a read grant being added or revoked.
type GrantChanged struct {
	Grantor string    `json:"grantor"`
	Grantee string    `json:"grantee"`
	Action  string    `json:"action"` // granted or revoked
	At      time.Time `json:"at"`
}

// PhaseChanged announces an enforcement phase transition.
type PhaseChanged struct {
	Tenant string    `json:"tenant"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Forced bool      `json:"forced"`
	Actor  string    `json:"actor,omitempty"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// AuditRecorded announces a flushed batch of shadow audit entries.
type AuditRecorded struct {
	Tenant  string    `json:"tenant"`
	Entries int       `json:"entries"`
	At      time.Time `json:"at"`
}

// Config controls the NATS connection.
type Config struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "recalld"
	}
}

// Publisher emits JSON events on NATS subjects.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// Connect dials NATS and returns a publisher. A disabled config returns a
// no-op publisher and no error, so callers wire it unconditionally.
func Connect(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return &Publisher{logger: logger}, nil
	}
	cfg.ApplyDefaults()

	nc, err := nats.Connect(cfg.URL,
		nats.Name("recalld"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("connected to NATS", zap.String("url", cfg.URL))
	return &Publisher{nc: nc, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Publish marshals payload and emits it on prefix.subject. Nil receivers
// and no-op publishers are safe; failures are logged, never returned.
func (p *Publisher) Publish(subject string, payload any) {
	if p == nil || p.nc == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("event marshal failed",
			zap.String("subject", subject), zap.Error(err))
		return
	}
	full := p.prefix + "." + subject
	if err := p.nc.Publish(full, data); err != nil {
		p.logger.Warn("event publish failed",
			zap.String("subject", full), zap.Error(err))
	}
}

// Close drains the connection. Safe on nil and no-op publishers.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
