package bus

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	apperrors "aprsrelay/internal/errors"
	"aprsrelay/internal/privacy"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const qos = 1

// MQTTConfig holds the connection settings of one MQTT transport
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Prefetch       int
	ReceiveTimeout time.Duration
	ConnectTimeout time.Duration
	// ShareGroup, when set, subscribes through $share/<group>/ so the broker
	// hands each message to one member of the group only
	ShareGroup string
}

// MQTT is a Transport over an MQTT broker. Messages are received with QoS 1
// on a persistent session and stay unacknowledged until Ack is called, so a
// crash before Ack makes the broker deliver them again.
type MQTT struct {
	config MQTTConfig
	logger logrus.FieldLogger

	mu       sync.Mutex
	client   mqtt.Client
	frames   chan mqtt.Message
	pending  map[string]mqtt.Message
	subs     map[string]string
	seq      uint64
	lost     atomic.Bool
	closed   chan struct{}
	closeOne sync.Once
}

// NewMQTT creates a disconnected transport. The first Subscribe connects.
func NewMQTT(config MQTTConfig, logger logrus.FieldLogger) *MQTT {
	if config.Prefetch <= 0 {
		config.Prefetch = 1
	}
	return &MQTT{
		config:  config,
		logger:  logger.WithField("component", "bus"),
		frames:  make(chan mqtt.Message, config.Prefetch),
		pending: make(map[string]mqtt.Message),
		subs:    make(map[string]string),
		closed:  make(chan struct{}),
	}
}

func (t *MQTT) connect() error {
	if t.client != nil && t.client.IsConnectionOpen() && !t.lost.Load() {
		return nil
	}
	if t.client != nil {
		t.client.Disconnect(0)
	}

	// messages held from the previous session will be redelivered
	t.pending = make(map[string]mqtt.Message)
	t.subs = make(map[string]string)
	for drained := false; !drained; {
		select {
		case <-t.frames:
		default:
			drained = true
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.config.Broker)
	opts.SetClientID(t.config.ClientID)
	opts.SetUsername(t.config.Username)
	opts.SetPassword(t.config.Password)
	opts.SetCleanSession(false)
	opts.SetAutoReconnect(false)
	opts.SetAutoAckDisabled(true)
	opts.SetConnectTimeout(t.config.ConnectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.lost.Store(true)
		t.logger.WithError(err).Warn("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(t.config.ConnectTimeout) {
		client.Disconnect(0)
		return apperrors.NewTransportError("connect", t.config.Broker, context.DeadlineExceeded)
	}
	if err := token.Error(); err != nil {
		return apperrors.NewTransportError("connect", t.config.Broker, err)
	}

	t.client = client
	t.lost.Store(false)
	t.logger.WithFields(privacy.MaskSensitiveFields(logrus.Fields{"broker": t.config.Broker})).Info("Connected to MQTT")
	return nil
}

// Subscribe connects if needed and subscribes to destination. Subscribing
// twice to the same destination is a no-op.
func (t *MQTT) Subscribe(ctx context.Context, destination, subscriptionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.connect(); err != nil {
		return err
	}
	if _, ok := t.subs[destination]; ok {
		return nil
	}

	token := t.client.Subscribe(t.filter(destination), qos, t.deliver)
	if !token.WaitTimeout(t.config.ConnectTimeout) {
		return apperrors.NewTransportError("subscribe", destination, context.DeadlineExceeded)
	}
	if err := token.Error(); err != nil {
		return apperrors.NewTransportError("subscribe", destination, err)
	}

	t.subs[destination] = subscriptionID
	t.logger.WithFields(logrus.Fields{
		"destination":  destination,
		"subscription": subscriptionID,
		"share_group":  t.config.ShareGroup,
	}).Info("Subscribed")
	return nil
}

// filter returns the subscription filter of destination
func (t *MQTT) filter(destination string) string {
	if t.config.ShareGroup == "" {
		return destination
	}
	return "$share/" + t.config.ShareGroup + "/" + destination
}

// deliver runs on the paho router. A full prefetch buffer blocks it, which
// stops the flow from the broker.
func (t *MQTT) deliver(_ mqtt.Client, msg mqtt.Message) {
	select {
	case t.frames <- msg:
	case <-t.closed:
	}
}

// NextFrame waits up to the receive timeout for the next message. ok is false
// when nothing arrived.
func (t *MQTT) NextFrame(ctx context.Context) (*Frame, bool, error) {
	if t.lost.Load() {
		return nil, false, apperrors.NewTransportError("receive", t.config.Broker, ErrDisconnected)
	}

	timer := time.NewTimer(t.config.ReceiveTimeout)
	defer timer.Stop()

	var msg mqtt.Message
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-timer.C:
		if t.lost.Load() {
			return nil, false, apperrors.NewTransportError("receive", t.config.Broker, ErrDisconnected)
		}
		return nil, false, nil
	case msg = <-t.frames:
	}

	t.mu.Lock()
	t.seq++
	id := strconv.FormatUint(t.seq, 10)
	t.pending[id] = msg
	subscription := t.subs[msg.Topic()]
	t.mu.Unlock()

	return &Frame{
		Command: CommandMessage,
		Headers: map[string]string{
			HeaderMessageID:    id,
			HeaderDestination:  msg.Topic(),
			HeaderSubscription: subscription,
		},
		Body: string(msg.Payload()),
	}, true, nil
}

// Send publishes body to destination with QoS 1
func (t *MQTT) Send(ctx context.Context, destination, body string) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil || t.lost.Load() {
		return apperrors.NewTransportError("send", destination, ErrDisconnected)
	}

	token := client.Publish(destination, qos, false, body)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return apperrors.NewTransportError("send", destination, err)
	}
	return nil
}

// Ack acknowledges a message returned by NextFrame
func (t *MQTT) Ack(_ context.Context, messageID, subscriptionID string) error {
	t.mu.Lock()
	msg, ok := t.pending[messageID]
	delete(t.pending, messageID)
	t.mu.Unlock()

	if !ok {
		return apperrors.NewTransportError("ack", subscriptionID, ErrUnknownMessage).
			WithContext("message_id", messageID)
	}
	msg.Ack()
	return nil
}

// Pending returns how many received messages await an Ack
func (t *MQTT) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// ConnectedTo returns the broker address, or "" while disconnected
func (t *MQTT) ConnectedTo() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil || t.lost.Load() || !t.client.IsConnectionOpen() {
		return ""
	}
	return t.config.Broker
}

// Close disconnects and releases a blocked delivery
func (t *MQTT) Close() {
	t.closeOne.Do(func() {
		close(t.closed)
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.client != nil {
			t.client.Disconnect(250)
		}
	})
}
