package service

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"aprsrelay/internal/constants"
	"aprsrelay/internal/decay"
	apperrors "aprsrelay/internal/errors"
	"aprsrelay/internal/metrics"
	"aprsrelay/internal/models"
	"aprsrelay/internal/packet"
	"aprsrelay/internal/privacy"

	"github.com/sirupsen/logrus"
)

// RuleSet is the set of classifier rules that fired for one event
type RuleSet uint8

const (
	RuleReplyAck RuleSet = 1 << iota
	RuleVerify
	RuleDeliveryAck
)

// Has reports whether rule is in the set
func (r RuleSet) Has(rule RuleSet) bool {
	return r&rule != 0
}

func (r RuleSet) String() string {
	var names []string
	if r.Has(RuleReplyAck) {
		names = append(names, "reply-ack")
	}
	if r.Has(RuleVerify) {
		names = append(names, "verify")
	}
	if r.Has(RuleDeliveryAck) {
		names = append(names, "delivery-ack")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

var (
	internetPath = regexp.MustCompile(`TCP(IP|XX)`)
	verifyBody   = regexp.MustCompile(`^(K([0-9]+)([A-Z0-9]{8}))[ ]*$`)
)

// ParseEvent decodes a notification body. ok is false when one of the
// source, target, message or path keys is missing.
func ParseEvent(body, callsign string) (models.InboundEvent, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return models.InboundEvent{}, false
	}
	for _, key := range []string{"sr", "to", "ms", "pa"} {
		if _, ok := fields[key]; !ok {
			return models.InboundEvent{}, false
		}
	}

	_, ackOnly := fields["ao"]
	ev := models.InboundEvent{
		Source:    strings.ToUpper(fieldString(fields["sr"])),
		Target:    strings.ToUpper(fieldString(fields["to"])),
		Body:      fieldString(fields["ms"]),
		Path:      fieldString(fields["pa"]),
		MessageID: fieldString(fields["id"]),
		Ack:       fieldString(fields["ack"]),
		ReplyID:   fieldString(fields["rpl"]),
		IsAckOnly: ackOnly,
	}
	ev.IsToMe = callsign != "" && ev.Target == strings.ToUpper(callsign)
	return ev, true
}

// fieldString reads a JSON value as text. Numbers keep their literal form.
func fieldString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return ""
	}
	return text
}

// Classifier applies the reply-ack, verification and delivery-ack rules to
// inbound events
type Classifier struct {
	settings  Settings
	store     Store
	cache     Cache
	verifier  *Verifier
	decay     *decay.Queue
	publisher *Publisher
	logger    logrus.FieldLogger
	metrics   *metrics.Registry
	now       func() time.Time
}

// NewClassifier creates a classifier. queue is the decay queue of the
// worker the classifier belongs to.
func NewClassifier(settings Settings, store Store, cache Cache, queue *decay.Queue, publisher *Publisher, logger logrus.FieldLogger, registry *metrics.Registry) *Classifier {
	return &Classifier{
		settings:  settings,
		store:     store,
		cache:     cache,
		verifier:  NewVerifier(store, logger),
		decay:     queue,
		publisher: publisher,
		logger:    logger,
		metrics:   registry,
		now:       time.Now,
	}
}

// Classify runs every rule against ev in a fixed order and returns the
// rules that fired. Rules are independent of each other.
func (c *Classifier) Classify(ctx context.Context, ev models.InboundEvent) RuleSet {
	var fired RuleSet
	if c.replyAck(ctx, ev) {
		fired |= RuleReplyAck
	}
	if c.verify(ctx, ev) {
		fired |= RuleVerify
	}
	if c.deliveryAck(ctx, ev) {
		fired |= RuleDeliveryAck
	}

	if fired != 0 {
		c.metrics.IncrementCounter("rules_fired", map[string]string{"rules": fired.String()}, "Classifier rules fired per event")
	}
	return fired
}

func (c *Classifier) replyAck(ctx context.Context, ev models.InboundEvent) bool {
	if c.settings.Callsign == "" || ev.MessageID == "" {
		return false
	}
	if !ev.IsToMe || ev.IsAckOnly {
		return false
	}

	c.logger.WithFields(logrus.Fields{
		LogFieldMessageID: ev.MessageID,
		LogFieldTarget:    ev.Source,
	}).Info("Sending ack")
	c.sendMessage(ctx, ev.Source, "ack"+ev.MessageID)
	return true
}

func (c *Classifier) verify(ctx context.Context, ev models.InboundEvent) bool {
	if !ev.IsToMe {
		return false
	}

	logger := c.logger.WithField(LogFieldSource, ev.Source)
	logger.Info("verify{rcv}")

	// only stations heard over radio can verify
	if internetPath.MatchString(ev.Path) {
		logger.WithField("path", ev.Path).Info("verify{fail} path was from internet")
		return false
	}

	match := verifyBody.FindStringSubmatch(strings.ToUpper(ev.Body))
	if match == nil {
		logger.Info("verify{fail} invalid key")
		return false
	}
	id, key := match[2], match[3]

	status := c.verifier.TryVerify(ctx, id, ev.Source, key)
	if status != models.VerifyIgnoredResend {
		c.sendMessage(ctx, ev.Source, status.String())
	}

	c.metrics.IncrementCounter("verify_attempts", map[string]string{"status": status.String()}, "Verification attempts by outcome")
	logger.WithFields(privacy.MaskSensitiveFields(logrus.Fields{
		"verify_id":  id,
		"verify_key": key,
		"result":     status.String(),
	})).Info("Verify")
	return true
}

func (c *Classifier) deliveryAck(ctx context.Context, ev models.InboundEvent) bool {
	if ev.IsToMe || ev.ReplyID == "" || ev.Ack == "" {
		return false
	}

	_, found := c.cache.Get(ctx, constants.AckCacheNamespace, ev.Source)
	if !found {
		found = c.hasSession(ctx, ev)
	}
	if !found {
		return false
	}

	c.sendMessage(ctx, ev.Source, "ack"+ev.ReplyID)

	decayID, ok, err := c.store.GetMessageDecayID(ctx, ev.Target, ev.Source, ev.Ack)
	if err != nil {
		c.degraded("get_message_decay_id", err)
	} else if ok {
		c.decay.Remove(decayID)
	}

	affected, err := c.store.SetMessageAck(ctx, ev.Target, ev.Source, ev.Ack)
	if err != nil {
		c.degraded("set_message_ack", err)
	} else if affected > 0 {
		c.logger.WithFields(logrus.Fields{
			"ack":          ev.Ack,
			LogFieldSource: ev.Source,
			LogFieldTarget: ev.Target,
		}).Info("Received ack")
	}
	return true
}

// hasSession asks the store whether the target has a live session and
// memoizes a positive answer for the session lifetime
func (c *Classifier) hasSession(ctx context.Context, ev models.InboundEvent) bool {
	start := time.Now()
	session, err := c.store.IsUserSession(ctx, ev.Target, c.now().Add(-c.settings.SessionExpire))
	elapsed := time.Since(start)
	c.metrics.RecordTimer("session_lookup", elapsed, nil, "Session lookup duration")

	if err != nil {
		c.degraded("is_user_session", err)
		session = false
	}

	level := logrus.DebugLevel
	if elapsed > constants.SlowSessionLookupMs*time.Millisecond {
		level = logrus.WarnLevel
	}
	c.logger.WithFields(logrus.Fields{
		LogFieldTarget:   ev.Target,
		"session":        session,
		LogFieldDuration: elapsed.Milliseconds(),
	}).Log(level, "ack{session}")

	if session {
		c.cache.Put(ctx, constants.AckCacheNamespace, ev.Source, "1", c.settings.SessionExpire)
	}
	return session
}

// sendMessage sends text from the local callsign to target
func (c *Classifier) sendMessage(ctx context.Context, target, text string) bool {
	msg := packet.Message{Header: c.settings.header(c.settings.Callsign), Target: target, Text: text}
	pkt, err := msg.Compile()
	if err != nil {
		apperrors.Entry(c.logger, apperrors.NewEncodingError("message", 0, err)).
			WithField(LogFieldTarget, target).
			Warn("Could not create message")
		return false
	}
	return c.publisher.Push(ctx, pkt)
}

func (c *Classifier) degraded(operation string, err error) {
	apperrors.Entry(c.logger, apperrors.NewCollaboratorError("store", operation, err)).
		Warn("Store call failed, treating as no result")
}
