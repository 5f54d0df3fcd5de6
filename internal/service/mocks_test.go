package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"aprsrelay/internal/bus"
	"aprsrelay/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

// Mock store
type mockStore struct {
	mock.Mock
}

func (m *mockStore) IsUserVerified(ctx context.Context, callsign string) (bool, error) {
	args := m.Called(ctx, callsign)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) GetUserMsgChecksum(ctx context.Context, id, callsign, key string) (bool, error) {
	args := m.Called(ctx, id, callsign, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) SetUserMsgChecksum(ctx context.Context, id, callsign, key string) (int64, error) {
	args := m.Called(ctx, id, callsign, key)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) SetTryUserVerify(ctx context.Context, id, callsign, key string) (int64, error) {
	args := m.Called(ctx, id, callsign, key)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) IsUserSession(ctx context.Context, callsign string, since time.Time) (bool, error) {
	args := m.Called(ctx, callsign, since)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) GetLastMessageID(ctx context.Context, source string) (string, bool, error) {
	args := m.Called(ctx, source)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockStore) GetMessageDecayID(ctx context.Context, source, target, ack string) (string, bool, error) {
	args := m.Called(ctx, source, target, ack)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockStore) GetObjectDecayID(ctx context.Context, name string, since time.Time) (string, bool, error) {
	args := m.Called(ctx, name, since)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockStore) GetPendingMessages(ctx context.Context) ([]models.PendingMessage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PendingMessage), args.Error(1)
}

func (m *mockStore) GetPendingObjects(ctx context.Context, now time.Time) ([]models.PendingObject, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PendingObject), args.Error(1)
}

func (m *mockStore) GetPendingPositions(ctx context.Context) ([]models.PendingPosition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PendingPosition), args.Error(1)
}

func (m *mockStore) SetMessageAck(ctx context.Context, source, target, ack string) (int64, error) {
	args := m.Called(ctx, source, target, ack)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) SetMessageSent(ctx context.Context, id int64, decayID string, ts time.Time) (int64, error) {
	args := m.Called(ctx, id, decayID, ts)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) SetMessageError(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) SetObjectSent(ctx context.Context, id int64, decayID string, ts time.Time) (int64, error) {
	args := m.Called(ctx, id, decayID, ts)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) SetObjectError(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) SetPositionSent(ctx context.Context, id int64, ts time.Time) (int64, error) {
	args := m.Called(ctx, id, ts)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) SetPositionError(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

// emptyPending makes every pending fetch return no rows
func (m *mockStore) emptyPending() {
	m.On("GetPendingMessages", mock.Anything).Return([]models.PendingMessage{}, nil).Maybe()
	m.On("GetPendingObjects", mock.Anything, mock.Anything).Return([]models.PendingObject{}, nil).Maybe()
	m.On("GetPendingPositions", mock.Anything).Return([]models.PendingPosition{}, nil).Maybe()
}

type sentFrame struct {
	Destination string
	Body        string
}

var errTransport = errors.New("connection reset")

// Fake bus transport recording everything sent
type fakeTransport struct {
	mu           sync.Mutex
	subscribeErr error
	nextErr      error
	frames       []*bus.Frame
	sent         []sentFrame
	acks         []string
	subscribed   []string
	connected    bool
}

func (f *fakeTransport) Subscribe(_ context.Context, destination, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribed = append(f.subscribed, destination+"#"+subscriptionID)
	f.connected = true
	return nil
}

func (f *fakeTransport) NextFrame(_ context.Context) (*bus.Frame, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextErr != nil {
		err := f.nextErr
		f.nextErr = nil
		f.connected = false
		return nil, false, err
	}
	if len(f.frames) == 0 {
		return nil, false, nil
	}
	frame := f.frames[0]
	f.frames = f.frames[1:]
	return frame, true, nil
}

func (f *fakeTransport) Send(_ context.Context, destination, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentFrame{Destination: destination, Body: body})
	return nil
}

func (f *fakeTransport) Ack(_ context.Context, messageID, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, messageID+"#"+subscriptionID)
	return nil
}

func (f *fakeTransport) ConnectedTo() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return "tcp://fake:1883"
	}
	return ""
}

func (f *fakeTransport) Close() {}

func (f *fakeTransport) push(frame *bus.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

// pushed returns the packets written to the push destination, without the
// trailing newline
func (f *fakeTransport) pushed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.Destination == testPushTopic {
			out = append(out, s.Body[:len(s.Body)-1])
		}
	}
	return out
}

func (f *fakeTransport) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acks...)
}

const (
	testFeedsTopic  = "aprs/feeds/is"
	testPushTopic   = "aprs/push/is"
	testNotifyTopic = "aprs/notify/messages"
)

func testSettings() Settings {
	return Settings{
		Callsign:       "RELAY",
		AprsDest:       "APOA00",
		Digis:          []string{"TCPIP*", "qAC"},
		NotifyTopic:    testNotifyTopic,
		FeedsTopic:     testFeedsTopic,
		PushTopic:      testPushTopic,
		SessionExpire:  300 * time.Second,
		SessionMarker:  300 * time.Second,
		MessageRetry:   15 * time.Second,
		MessageTimeout: 900 * time.Second,
		ObjectRetry:    30 * time.Second,
		ObjectTimeout:  300 * time.Second,
		ObjectWindow:   14400 * time.Second,
		DrainInterval:  2 * time.Second,
		StatsInterval:  60 * time.Second,
		IdleBackoff:    time.Millisecond,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

// testClock is a settable clock shared by the parts of a worker under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1700000000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
