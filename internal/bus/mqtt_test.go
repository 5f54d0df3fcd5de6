package bus

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	apperrors "aprsrelay/internal/errors"

	mqttserver "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startTestBroker(t *testing.T) (*mqttserver.Server, string) {
	t.Helper()
	port := freePort(t)

	server := mqttserver.New(nil)
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	tcp := listeners.NewTCP(listeners.Config{
		ID:      fmt.Sprintf("test-broker-%d", port),
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})
	require.NoError(t, server.AddListener(tcp))

	go func() {
		if err := server.Serve(); err != nil {
			t.Logf("MQTT broker stopped: %v", err)
		}
	}()

	return server, fmt.Sprintf("tcp://127.0.0.1:%d", port)
}

func newTestTransport(broker, clientID string) *MQTT {
	return NewMQTT(MQTTConfig{
		Broker:         broker,
		ClientID:       clientID,
		Prefetch:       16,
		ReceiveTimeout: 50 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
	}, quietLogger())
}

func nextFrame(t *testing.T, tr *MQTT) *Frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		frame, ok, err := tr.NextFrame(context.Background())
		require.NoError(t, err)
		if ok {
			return frame
		}
	}
	t.Fatal("no frame received")
	return nil
}

func TestMQTT_SubscribeReceiveAck(t *testing.T) {
	server, broker := startTestBroker(t)
	defer server.Close()

	receiver := newTestTransport(broker, "receiver")
	defer receiver.Close()
	sender := newTestTransport(broker, "sender")
	defer sender.Close()

	ctx := context.Background()
	require.NoError(t, receiver.Subscribe(ctx, "aprs/notify/messages", "1"))
	require.NoError(t, sender.Subscribe(ctx, "aprs/unused", "1"))
	assert.Equal(t, broker, receiver.ConnectedTo())

	require.NoError(t, sender.Send(ctx, "aprs/notify/messages", `{"sr":"KC1ABC"}`))

	frame := nextFrame(t, receiver)
	assert.Equal(t, CommandMessage, frame.Command)
	assert.Equal(t, "1", frame.Header(HeaderMessageID))
	assert.Equal(t, "aprs/notify/messages", frame.Header(HeaderDestination))
	assert.Equal(t, "1", frame.Header(HeaderSubscription))
	assert.Equal(t, `{"sr":"KC1ABC"}`, frame.Body)
	assert.Equal(t, 1, receiver.Pending())

	require.NoError(t, receiver.Ack(ctx, frame.Header(HeaderMessageID), "1"))
	assert.Equal(t, 0, receiver.Pending())

	err := receiver.Ack(ctx, frame.Header(HeaderMessageID), "1")
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestMQTT_SharedSubscriptionDeliversEachFrameOnce(t *testing.T) {
	server, broker := startTestBroker(t)
	defer server.Close()

	ctx := context.Background()
	workers := make([]*MQTT, 2)
	for i := range workers {
		workers[i] = newTestTransport(broker, fmt.Sprintf("aprsrelay-%d", i))
		workers[i].config.ShareGroup = "aprsrelay"
		defer workers[i].Close()
		require.NoError(t, workers[i].Subscribe(ctx, "aprs/notify/messages", "1"))
	}
	sender := newTestTransport(broker, "sender")
	defer sender.Close()
	require.NoError(t, sender.Subscribe(ctx, "aprs/unused", "1"))

	const published = 6
	for i := 0; i < published; i++ {
		require.NoError(t, sender.Send(ctx, "aprs/notify/messages", fmt.Sprintf(`{"n":%d}`, i)))
	}

	bodies := map[string]int{}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, w := range workers {
			frame, ok, err := w.NextFrame(ctx)
			require.NoError(t, err)
			if !ok {
				continue
			}
			assert.Equal(t, "aprs/notify/messages", frame.Header(HeaderDestination))
			assert.Equal(t, "1", frame.Header(HeaderSubscription))
			bodies[frame.Body]++
			require.NoError(t, w.Ack(ctx, frame.Header(HeaderMessageID), "1"))
		}
	}

	assert.Len(t, bodies, published)
	for body, n := range bodies {
		assert.Equal(t, 1, n, "frame %s delivered more than once", body)
	}
}

func TestMQTT_Filter(t *testing.T) {
	tr := newTestTransport("tcp://127.0.0.1:1", "plain")
	assert.Equal(t, "aprs/notify/messages", tr.filter("aprs/notify/messages"))

	tr.config.ShareGroup = "aprsrelay"
	assert.Equal(t, "$share/aprsrelay/aprs/notify/messages", tr.filter("aprs/notify/messages"))
}

func TestMQTT_NextFrameTimeout(t *testing.T) {
	server, broker := startTestBroker(t)
	defer server.Close()

	tr := newTestTransport(broker, "idle")
	defer tr.Close()
	require.NoError(t, tr.Subscribe(context.Background(), "aprs/notify/messages", "1"))

	frame, ok, err := tr.NextFrame(context.Background())

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, frame)
}

func TestMQTT_SubscribeUnreachableBroker(t *testing.T) {
	tr := newTestTransport(fmt.Sprintf("tcp://127.0.0.1:%d", freePort(t)), "nobody")
	defer tr.Close()

	err := tr.Subscribe(context.Background(), "aprs/notify/messages", "1")

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransport))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Empty(t, tr.ConnectedTo())
}

func TestMQTT_SendWhileDisconnected(t *testing.T) {
	tr := newTestTransport("tcp://127.0.0.1:1", "nobody")
	defer tr.Close()

	err := tr.Send(context.Background(), "aprs/feeds/is", "x")

	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestMQTT_LostConnectionReportsDisconnected(t *testing.T) {
	server, broker := startTestBroker(t)

	tr := newTestTransport(broker, "dropped")
	defer tr.Close()
	require.NoError(t, tr.Subscribe(context.Background(), "aprs/notify/messages", "1"))

	require.NoError(t, server.Close())

	assert.Eventually(t, func() bool {
		_, _, err := tr.NextFrame(context.Background())
		return err != nil && apperrors.HasCode(err, apperrors.ErrCodeTransport)
	}, 5*time.Second, 20*time.Millisecond)
	assert.Empty(t, tr.ConnectedTo())
}

func TestMQTT_NextFrameHonoursContext(t *testing.T) {
	tr := newTestTransport("tcp://127.0.0.1:1", "nobody")
	tr.config.ReceiveTimeout = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := tr.NextFrame(ctx)

	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFrame_Header(t *testing.T) {
	var nilFrame *Frame
	assert.Empty(t, nilFrame.Header(HeaderMessageID))
	assert.Empty(t, (&Frame{}).Header(HeaderMessageID))
	assert.Equal(t, "7", (&Frame{Headers: map[string]string{HeaderMessageID: "7"}}).Header(HeaderMessageID))
}
