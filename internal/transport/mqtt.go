package transport

import (
	"context"
	"fmt"
	"time"

	"attendance-relay/internal/config"
	"attendance-relay/internal/utils"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// publisher is the slice of mqtt.Client the transport needs.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTTransport publishes events to a broker topic. A publish counts as
// delivered once the broker acknowledges it (QoS 1).
type MQTTTransport struct {
	client  publisher
	qos     byte
	timeout time.Duration
}

func NewMQTTTransport(client publisher, timeout time.Duration) *MQTTTransport {
	return &MQTTTransport{
		client:  client,
		qos:     1,
		timeout: timeout,
	}
}

// NewMQTTTransportFromConfig connects to the configured broker.
func NewMQTTTransportFromConfig(cfg *config.Config) (*MQTTTransport, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(10 * time.Second)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		utils.Logger.Info("MQTT client connected")
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		utils.Logger.Errorf("MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(cfg.ConnectTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return NewMQTTTransport(client, cfg.DeliveryTimeout), nil
}

// Send publishes payload to topic and waits for the broker ack.
func (mt *MQTTTransport) Send(ctx context.Context, topic string, payload []byte) error {
	if !mt.client.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	logger := utils.Logger.WithFields(logrus.Fields{
		"transport": TransportTypeMQTT,
		"topic":     topic,
	})
	logger.WithField("payload_size", len(payload)).Debug("Publishing message")

	token := mt.client.Publish(topic, mt.qos, false, payload)

	timer := time.NewTimer(mt.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("MQTT publish cancelled: %w", ctx.Err())
	case <-timer.C:
		return fmt.Errorf("MQTT publish timed out after %v", mt.timeout)
	case <-token.Done():
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT publish failed: %w", err)
	}

	logger.Debug("Message published")
	return nil
}

func (mt *MQTTTransport) GetTransportType() TransportType {
	return TransportTypeMQTT
}

func (mt *MQTTTransport) Close() error {
	mt.client.Disconnect(250)
	return nil
}
