package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"callrec-server/pkg/media"
	"callrec-server/pkg/metrics"
)

// RecordingNotification is published whenever a recording window closes
// and its artifact has been finalized on disk.
type RecordingNotification struct {
	CallID      string    `json:"call_id"`
	SpeakerKey  string    `json:"speaker_key"`
	Path        string    `json:"path"`
	DataBytes   uint32    `json:"data_bytes"`
	CompletedAt time.Time `json:"completed_at"`
}

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL        string
	QueueName  string
	RoutingKey string
	Durable    bool
	AutoDelete bool
}

// AMQPClient handles AMQP connections and recording notification publishing
type AMQPClient struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPClient creates a new AMQP client
func NewAMQPClient(logger *logrus.Logger, url, queueName string) *AMQPClient {
	config := AMQPConfig{
		URL:        url,
		QueueName:  queueName,
		RoutingKey: queueName,
		Durable:    true,
		AutoDelete: false,
	}
	return &AMQPClient{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes a connection to the AMQP server
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	if c.config.URL == "" || c.config.QueueName == "" {
		c.logger.Warn("AMQP_URL or AMQP_QUEUE_NAME not set, recording notifications will be disabled")
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	// Dial in a goroutine so a hung broker cannot stall startup.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)

	go func() {
		conn, err := amqp.Dial(c.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	var err error
	select {
	case result := <-connChan:
		conn = result.conn
		err = result.err
	case <-ctx.Done():
		return fmt.Errorf("connection to AMQP server timed out after 5 seconds")
	}

	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	c.conn = conn

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	c.channel = channel

	_, err = channel.QueueDeclare(
		c.config.QueueName,
		c.config.Durable,
		c.config.AutoDelete,
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	c.connected = true
	metrics.SetAMQPConnectionStatus(true)
	c.logger.WithFields(logrus.Fields{
		"queue": c.config.QueueName,
	}).Info("Connected to AMQP server")

	// Fresh stop channel in case this is a reconnect.
	c.stopChan = make(chan struct{})

	go c.monitorConnection()

	return nil
}

// Disconnect closes the AMQP connection
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}

	close(c.stopChan)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	metrics.SetAMQPConnectionStatus(false)
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishRecordingArtifact publishes a finished-artifact notification.
// Failures are reported but never affect the recording itself; the
// artifact is already safe on disk when this runs.
func (c *AMQPClient) PublishRecordingArtifact(callID string, artifact *media.Artifact) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"call_id": callID,
				"recover": r,
			}).Error("Recovered from panic in AMQP publish")
		}
	}()

	if !c.IsConnected() {
		return fmt.Errorf("not connected to AMQP server")
	}

	notification := RecordingNotification{
		CallID:      callID,
		SpeakerKey:  artifact.SpeakerKey,
		Path:        artifact.Path,
		DataBytes:   artifact.DataBytes,
		CompletedAt: time.Now(),
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal recording notification: %w", err)
	}

	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if !c.connected || c.channel == nil {
		metrics.RecordAMQPPublish(c.config.QueueName, "dropped")
		return fmt.Errorf("lost AMQP connection before publishing")
	}

	err = c.channel.Publish(
		"",                  // default exchange
		c.config.RoutingKey, // routing key
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		metrics.RecordAMQPPublish(c.config.QueueName, "error")
		return fmt.Errorf("failed to publish recording notification: %w", err)
	}

	metrics.RecordAMQPPublish(c.config.QueueName, "success")
	c.logger.WithFields(logrus.Fields{
		"call_id":     callID,
		"speaker_key": artifact.SpeakerKey,
	}).Debug("Published recording notification")
	return nil
}

// monitorConnection watches for the broker dropping the connection and
// reconnects with exponential backoff.
func (c *AMQPClient) monitorConnection() {
	closeChan := make(chan *amqp.Error)

	c.connMutex.RLock()
	if c.conn != nil {
		c.conn.NotifyClose(closeChan)
	}
	c.connMutex.RUnlock()

	for {
		select {
		case <-c.stopChan:
			return
		case closeErr := <-closeChan:
			c.connMutex.Lock()
			c.connected = false
			c.connMutex.Unlock()
			metrics.SetAMQPConnectionStatus(false)

			c.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

			for attempt := 1; attempt <= 10; attempt++ {
				err := c.Connect()
				if err == nil {
					c.logger.Info("Successfully reconnected to AMQP server")
					return
				}

				c.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")

				backoff := time.Duration(1<<uint(attempt-1)) * time.Second
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
				time.Sleep(backoff)
			}
			return
		}
	}
}
