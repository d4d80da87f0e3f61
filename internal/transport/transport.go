package transport

import (
	"context"
	"errors"
	"fmt"

	"attendance-relay/internal/common/constants"
	"attendance-relay/internal/config"
)

// TransportType 정의
type TransportType string

const (
	TransportTypeHTTP TransportType = constants.TransportHTTP
	TransportTypeMQTT TransportType = constants.TransportMQTT
)

// ErrRejected marks a send the remote end answered but did not accept.
var ErrRejected = errors.New("transport: message rejected")

// MessageTransport 인터페이스
type MessageTransport interface {
	Send(ctx context.Context, destination string, payload []byte) error
	GetTransportType() TransportType
	Close() error
}

// New builds the transport selected by cfg.DeliveryTransport and returns it
// with the destination events are sent to (URL or topic).
func New(cfg *config.Config) (MessageTransport, string, error) {
	switch TransportType(cfg.DeliveryTransport) {
	case TransportTypeHTTP, "":
		return NewHTTPTransport(cfg.DeliveryTimeout), cfg.AttendanceAPIURL, nil
	case TransportTypeMQTT:
		mt, err := NewMQTTTransportFromConfig(cfg)
		if err != nil {
			return nil, "", err
		}
		return mt, cfg.MQTTTopic, nil
	default:
		return nil, "", fmt.Errorf("unknown delivery transport %q", cfg.DeliveryTransport)
	}
}
