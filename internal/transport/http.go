package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"attendance-relay/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxLoggedBody = 512

type HTTPTransport struct {
	client  *http.Client
	headers map[string]string
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{
			Timeout: timeout,
		},
		headers: map[string]string{
			"Content-Type": "application/json",
			"User-Agent":   "Attendance-Relay/1.0",
		},
	}
}

// Send POSTs payload to url. Only 200 OK counts as accepted.
func (ht *HTTPTransport) Send(ctx context.Context, url string, payload []byte) error {
	requestID := uuid.NewString()
	logger := utils.Logger.WithFields(logrus.Fields{
		"transport":  TransportTypeHTTP,
		"url":        url,
		"request_id": requestID,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	for key, value := range ht.headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("X-Request-ID", requestID)

	logger.WithField("payload_size", len(payload)).Debug("Sending POST")

	resp, err := ht.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, string(body))
	}

	logger.WithField("status", resp.StatusCode).Debug("Request accepted")
	return nil
}

func (ht *HTTPTransport) GetTransportType() TransportType {
	return TransportTypeHTTP
}

func (ht *HTTPTransport) Close() error {
	ht.client.CloseIdleConnections()
	return nil
}
