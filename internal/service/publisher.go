package service

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"aprsrelay/internal/bus"
	apperrors "aprsrelay/internal/errors"
	"aprsrelay/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Publisher pushes compiled packets to the feed and push destinations
type Publisher struct {
	transport bus.Transport
	settings  Settings
	logger    logrus.FieldLogger
	metrics   *metrics.Registry
	now       func() time.Time
	published atomic.Int64
}

// NewPublisher creates a publisher sending through transport
func NewPublisher(transport bus.Transport, settings Settings, logger logrus.FieldLogger, registry *metrics.Registry) *Publisher {
	return &Publisher{
		transport: transport,
		settings:  settings,
		logger:    logger,
		metrics:   registry,
		now:       time.Now,
	}
}

// Push publishes one packet. With sending disabled the packet is only
// logged and Push reports success.
func (p *Publisher) Push(ctx context.Context, pkt string) bool {
	if p.settings.NoSend {
		p.logger.WithField("packet", pkt).Warn("send{no}")
		return true
	}

	feed := strconv.FormatInt(p.now().Unix(), 10) + " " + pkt + "\n"
	if err := p.transport.Send(ctx, p.settings.FeedsTopic, feed); err != nil {
		apperrors.Entry(p.logger, err).Warn("Failed to publish packet to feed")
	}

	if err := p.transport.Send(ctx, p.settings.PushTopic, pkt+"\n"); err != nil {
		apperrors.Entry(p.logger, err).Warn("Failed to publish packet")
		return false
	}

	p.published.Add(1)
	p.metrics.IncrementCounter("frames_out", nil, "Packets published to the bus")
	return true
}

// TakePublished returns the number of packets published since the last
// call
func (p *Publisher) TakePublished() int64 {
	return p.published.Swap(0)
}
