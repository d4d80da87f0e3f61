// Package delivery pushes attendance events to the upstream API. It does not
// retry; undelivered events are the failed-event store's concern.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"attendance-relay/internal/models"
	"attendance-relay/internal/transport"
	"attendance-relay/internal/utils"

	"github.com/sirupsen/logrus"
)

// ErrRejected reports that the upstream answered but did not accept the event.
var ErrRejected = transport.ErrRejected

// Payload is the upstream request body.
type Payload struct {
	DeviceID  int    `json:"device_id"`
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
}

func NewPayload(event models.AttendanceEvent) Payload {
	return Payload{
		DeviceID:  event.DeviceID,
		UserID:    event.UserID,
		Timestamp: event.FormattedTimestamp(),
		Status:    event.Status,
	}
}

type Client struct {
	transport   transport.MessageTransport
	destination string
	timeout     time.Duration
}

func NewClient(t transport.MessageTransport, destination string, timeout time.Duration) *Client {
	return &Client{
		transport:   t,
		destination: destination,
		timeout:     timeout,
	}
}

// Send delivers one event within the client timeout. A nil error means the
// upstream accepted it.
func (c *Client) Send(ctx context.Context, event models.AttendanceEvent) error {
	logger := utils.Logger.WithFields(logrus.Fields{
		"device_id": event.DeviceID,
		"user_id":   event.UserID,
		"timestamp": event.FormattedTimestamp(),
	})

	body, err := json.Marshal(NewPayload(event))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.transport.Send(ctx, c.destination, body); err != nil {
		logger.WithError(err).Error("Failed to send log to API")
		return fmt.Errorf("deliver event: %w", err)
	}

	logger.Info("Successfully sent log to API")
	return nil
}

func (c *Client) Close() error {
	return c.transport.Close()
}
