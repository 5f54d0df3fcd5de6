package service

import (
	"context"
	"fmt"
	"time"

	"aprsrelay/internal/constants"
	"aprsrelay/internal/decay"
	apperrors "aprsrelay/internal/errors"
	"aprsrelay/internal/metrics"
	"aprsrelay/internal/packet"

	"github.com/sirupsen/logrus"
)

// replyIDLength is the size of the message ids used by stations that
// support reply-acks
const replyIDLength = 2

// Drainer turns pending store rows into published packets
type Drainer struct {
	settings  Settings
	store     Store
	cache     Cache
	decay     *decay.Queue
	publisher *Publisher
	logger    logrus.FieldLogger
	metrics   *metrics.Registry
	now       func() time.Time
}

// NewDrainer creates a drainer feeding the decay queue of one worker
func NewDrainer(settings Settings, store Store, cache Cache, queue *decay.Queue, publisher *Publisher, logger logrus.FieldLogger, registry *metrics.Registry) *Drainer {
	return &Drainer{
		settings:  settings,
		store:     store,
		cache:     cache,
		decay:     queue,
		publisher: publisher,
		logger:    logger,
		metrics:   registry,
		now:       time.Now,
	}
}

// DrainAll drains messages, objects and positions, in that order, and
// returns how many packets were created
func (d *Drainer) DrainAll(ctx context.Context) int {
	return d.DrainMessages(ctx) + d.DrainObjects(ctx) + d.DrainPositions(ctx)
}

// DrainMessages publishes pending messages. Non-local messages are queued
// for retry until acknowledged.
func (d *Drainer) DrainMessages(ctx context.Context) int {
	rows, err := d.store.GetPendingMessages(ctx)
	if err != nil {
		d.fetchFailed("messages", err)
		return 0
	}

	created := 0
	for _, m := range rows {
		title := fmt.Sprintf("Create message '%s' to %s", m.Message, m.Target)
		logger := d.logger.WithFields(logrus.Fields{LogFieldRowID: m.ID, LogFieldSource: m.Source, LogFieldTarget: m.Target})

		text := m.Message
		if msgID, ok, err := d.store.GetLastMessageID(ctx, m.Target); err != nil {
			d.degraded("get_last_message_id", err)
		} else if ok && len(msgID) == replyIDLength {
			text += msgID
		}

		msg := packet.Message{Header: d.settings.header(m.Source), Target: m.Target, Text: text}
		pkt, err := msg.Compile()
		if err != nil {
			apperrors.Entry(logger, apperrors.NewEncodingError("message", m.ID, err)).Warn("Could not create message")
			d.markError(ctx, "message", m.ID, d.store.SetMessageError)
			continue
		}

		if m.Local {
			d.markSent("message", m.ID, func() (int64, error) {
				return d.store.SetMessageSent(ctx, m.ID, "", d.now())
			})
			continue
		}

		logger.WithField("text", text).Info("Creating message")
		decayID := d.enqueue(logger, m.Source, title, pkt, d.settings.MessageRetry, d.settings.MessageTimeout)
		d.publisher.Push(ctx, pkt)
		sent := d.markSent("message", m.ID, func() (int64, error) {
			return d.store.SetMessageSent(ctx, m.ID, decayID, d.now())
		})
		if sent {
			d.cache.Put(ctx, constants.AckCacheNamespace, m.Source, "1", d.settings.SessionMarker)
		}
		created++
	}

	d.count("message", created)
	return created
}

// DrainObjects publishes pending objects. A first broadcast is queued for
// retry; later beacons are not.
func (d *Drainer) DrainObjects(ctx context.Context) int {
	now := d.now()
	rows, err := d.store.GetPendingObjects(ctx, now)
	if err != nil {
		d.fetchFailed("objects", err)
		return 0
	}

	created := 0
	for _, o := range rows {
		beacon := time.Duration(o.BeaconSec) * time.Second
		if o.BroadcastTs > 0 && time.Unix(o.BroadcastTs, 0).After(now.Add(-beacon)) {
			continue
		}
		logger := d.logger.WithFields(logrus.Fields{LogFieldRowID: o.ID, LogFieldSource: o.Source, "name": o.Name})

		if oldID, ok, err := d.store.GetObjectDecayID(ctx, o.Name, now.Add(-d.settings.ObjectWindow)); err != nil {
			d.degraded("get_object_decay_id", err)
		} else if ok {
			d.decay.Remove(oldID)
		}

		title := fmt.Sprintf("Create object '%s'", o.Name)
		if o.Kill {
			title = fmt.Sprintf("Delete object '%s'", o.Name)
		}

		obj := packet.Object{
			Header:   d.settings.header(o.Source),
			Location: location(o.Latitude, o.Longitude, o.SymbolTable, o.SymbolCode, o.Course, o.Speed, o.Altitude.Float64, o.Status),
			Name:     o.Name,
			Killed:   o.Kill,
		}
		pkt, err := obj.Compile()
		if err != nil {
			apperrors.Entry(logger, apperrors.NewEncodingError("object", o.ID, err)).Warn("Could not create object")
			d.markError(ctx, "object", o.ID, d.store.SetObjectError)
			continue
		}

		decayID := o.DecayID
		if !o.Local {
			if o.BroadcastTs == 0 {
				if id := d.enqueue(logger, o.Source, title, pkt, d.settings.ObjectRetry, d.settings.ObjectTimeout); id != "" {
					decayID = id
				}
			}
			logger.Info(title)
			d.publisher.Push(ctx, pkt)
		}
		d.markSent("object", o.ID, func() (int64, error) {
			return d.store.SetObjectSent(ctx, o.ID, decayID, d.now())
		})
		created++
	}

	d.count("object", created)
	return created
}

// DrainPositions publishes pending positions. Positions are never retried.
func (d *Drainer) DrainPositions(ctx context.Context) int {
	rows, err := d.store.GetPendingPositions(ctx)
	if err != nil {
		d.fetchFailed("positions", err)
		return 0
	}

	created := 0
	for _, p := range rows {
		logger := d.logger.WithFields(logrus.Fields{LogFieldRowID: p.ID, LogFieldSource: p.Source})

		pos := packet.Position{
			Header:   d.settings.header(p.Source),
			Location: location(p.Latitude, p.Longitude, p.SymbolTable, p.SymbolCode, p.Course, p.Speed, p.Altitude.Float64, p.Status),
		}
		pkt, err := pos.Compile()
		if err != nil {
			apperrors.Entry(logger, apperrors.NewEncodingError("position", p.ID, err)).Warn("Could not create position")
			d.markError(ctx, "position", p.ID, d.store.SetPositionError)
			continue
		}

		if !p.Local {
			logger.Info("Creating position")
			d.publisher.Push(ctx, pkt)
		}
		d.markSent("position", p.ID, func() (int64, error) {
			return d.store.SetPositionSent(ctx, p.ID, d.now())
		})
		created++
	}

	d.count("position", created)
	return created
}

func location(lat, lng float64, table, code string, course int, speed, altitude float64, status string) packet.Location {
	return packet.Location{
		Latitude:  lat,
		Longitude: lng,
		Symbol:    packet.Symbol{Table: firstByte(table), Code: firstByte(code)},
		Course:    course,
		Speed:     speed,
		Altitude:  altitude,
		Comment:   status,
	}
}

// firstByte returns the first byte of s, or zero for an empty string which
// the encoder rejects
func firstByte(s string) byte {
	if s == "" {
		return 0
	}
	return s[0]
}

// enqueue registers pkt for retry and returns its decay id, or "" when the
// queue rejected the timings
func (d *Drainer) enqueue(logger logrus.FieldLogger, source, title, pkt string, retry, timeout time.Duration) string {
	id, ok := d.decay.Add(source, title, pkt, retry, timeout)
	if !ok {
		logger.WithFields(logrus.Fields{
			"retry":   retry.String(),
			"timeout": timeout.String(),
		}).Warn("Decay queue rejected packet, it will not be retried")
	}
	return id
}

// markSent reports whether the row was marked sent
func (d *Drainer) markSent(kind string, id int64, mark func() (int64, error)) bool {
	if _, err := mark(); err != nil {
		apperrors.Entry(d.logger, apperrors.NewDatabaseError("set_"+kind+"_sent", err)).
			WithField(LogFieldRowID, id).
			Error("Failed to mark row sent")
		return false
	}
	return true
}

func (d *Drainer) markError(ctx context.Context, kind string, id int64, mark func(context.Context, int64) (int64, error)) {
	if _, err := mark(ctx, id); err != nil {
		apperrors.Entry(d.logger, apperrors.NewDatabaseError("set_"+kind+"_error", err)).
			WithField(LogFieldRowID, id).
			Error("Failed to mark row errored")
	}
}

func (d *Drainer) fetchFailed(batch string, err error) {
	apperrors.Entry(d.logger, apperrors.NewCollaboratorError("store", "get_pending_"+batch, err)).
		Warn("Failed to fetch pending rows")
}

func (d *Drainer) degraded(operation string, err error) {
	apperrors.Entry(d.logger, apperrors.NewCollaboratorError("store", operation, err)).
		Warn("Store call failed, treating as no result")
}

func (d *Drainer) count(kind string, created int) {
	if created > 0 {
		d.metrics.AddToCounter("packets", float64(created), map[string]string{"kind": kind}, "Packets created from pending rows")
	}
}
