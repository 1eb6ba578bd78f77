package rabbitmq

import (
	"context"
	"errors"
)

// Connection reports whether the broker connection has been closed.
type Connection interface {
	IsClosed() bool
}

// HealthCheck implements ports.HealthChecker for RabbitMQ.
type HealthCheck struct {
	conn Connection
}

func NewHealthCheck(conn Connection) *HealthCheck {
	return &HealthCheck{conn: conn}
}

func (h *HealthCheck) Ping(_ context.Context) error {
	if h.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "rabbitmq"
}
