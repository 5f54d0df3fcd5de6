package service

import (
	"context"
	"time"

	"aprsrelay/internal/models"
)

// Store is the persistence collaborator. Every method maps to one stored
// operation of the relay database.
type Store interface {
	IsUserVerified(ctx context.Context, callsign string) (bool, error)
	GetUserMsgChecksum(ctx context.Context, id, callsign, key string) (bool, error)
	SetUserMsgChecksum(ctx context.Context, id, callsign, key string) (int64, error)
	SetTryUserVerify(ctx context.Context, id, callsign, key string) (int64, error)
	IsUserSession(ctx context.Context, callsign string, since time.Time) (bool, error)

	GetLastMessageID(ctx context.Context, source string) (string, bool, error)
	GetMessageDecayID(ctx context.Context, source, target, ack string) (string, bool, error)
	GetObjectDecayID(ctx context.Context, name string, since time.Time) (string, bool, error)

	GetPendingMessages(ctx context.Context) ([]models.PendingMessage, error)
	GetPendingObjects(ctx context.Context, now time.Time) ([]models.PendingObject, error)
	GetPendingPositions(ctx context.Context) ([]models.PendingPosition, error)

	SetMessageAck(ctx context.Context, source, target, ack string) (int64, error)
	SetMessageSent(ctx context.Context, id int64, decayID string, ts time.Time) (int64, error)
	SetMessageError(ctx context.Context, id int64) (int64, error)
	SetObjectSent(ctx context.Context, id int64, decayID string, ts time.Time) (int64, error)
	SetObjectError(ctx context.Context, id int64) (int64, error)
	SetPositionSent(ctx context.Context, id int64, ts time.Time) (int64, error)
	SetPositionError(ctx context.Context, id int64) (int64, error)
}

// Cache remembers short lived facts. Failures read as "not found".
type Cache interface {
	Get(ctx context.Context, namespace, key string) (string, bool)
	Put(ctx context.Context, namespace, key, value string, ttl time.Duration) bool
}
