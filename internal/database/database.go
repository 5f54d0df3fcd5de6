package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	apperrors "aprsrelay/internal/errors"
	"aprsrelay/internal/migrations"
	"aprsrelay/internal/models"
	"aprsrelay/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the SQLite backed relay store. It is safe for use by several
// workers at once.
type Database struct {
	db *sql.DB
}

func New(ctx context.Context, dbPath string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, apperrors.NewConfigError("database.path", err.Error())
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - Path validated above
	if err != nil {
		return nil, apperrors.NewConnectionError(dbPath, fmt.Errorf("failed to create database file: %w", err))
	}
	if err := file.Close(); err != nil {
		return nil, apperrors.NewConnectionError(dbPath, fmt.Errorf("failed to close database file: %w", err))
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, apperrors.NewConnectionError(dbPath, err)
	}

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, apperrors.NewConnectionError(dbPath, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr))
		}
		return nil, apperrors.NewConnectionError(dbPath, fmt.Errorf("failed to ping database: %w", err))
	}

	if _, err := migrations.Run(ctx, db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, apperrors.Wrap(fmt.Errorf("%w (close error: %v)", err, closeErr), apperrors.ErrCodeDatabaseMigration, "failed to initialize schema")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseMigration, "failed to initialize schema")
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *Database) exists(ctx context.Context, operation, query string, args ...interface{}) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewDatabaseError(operation, err)
	}
	return true, nil
}

func (d *Database) lookup(ctx context.Context, operation, query string, args ...interface{}) (string, bool, error) {
	var value string
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewDatabaseError(operation, err)
	}
	return value, true, nil
}

func (d *Database) exec(ctx context.Context, operation, query string, args ...interface{}) (int64, error) {
	n, err := retryableExec(ctx, func() (int64, error) {
		result, err := d.db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return result.RowsAffected()
	})
	if err != nil {
		return 0, apperrors.NewDatabaseError(operation, err)
	}
	return n, nil
}

func (d *Database) IsUserVerified(ctx context.Context, callsign string) (bool, error) {
	return d.exists(ctx, "is user verified", IsUserVerifiedQuery, callsign)
}

func (d *Database) GetUserMsgChecksum(ctx context.Context, id, callsign, key string) (bool, error) {
	return d.exists(ctx, "get user msg checksum", GetUserMsgChecksumQuery, id, callsign, key)
}

func (d *Database) SetUserMsgChecksum(ctx context.Context, id, callsign, key string) (int64, error) {
	return d.exec(ctx, "set user msg checksum", SetUserMsgChecksumQuery, id, callsign, key, time.Now().Unix())
}

// SetTryUserVerify marks user id as verified when callsign and key match an
// unverified user. It affects at most one row.
func (d *Database) SetTryUserVerify(ctx context.Context, id, callsign, key string) (int64, error) {
	return d.exec(ctx, "set try user verify", SetTryUserVerifyQuery, time.Now().Unix(), id, callsign, key)
}

func (d *Database) IsUserSession(ctx context.Context, callsign string, since time.Time) (bool, error) {
	return d.exists(ctx, "is user session", IsUserSessionQuery, callsign, since.Unix())
}

// GetLastMessageID returns the latest message number received from source
func (d *Database) GetLastMessageID(ctx context.Context, source string) (string, bool, error) {
	return d.lookup(ctx, "get last message id", GetLastMessageIDQuery, source)
}

// GetMessageDecayID returns the decay id of the message source sent to target
// under message number ack.
func (d *Database) GetMessageDecayID(ctx context.Context, source, target, ack string) (string, bool, error) {
	return d.lookup(ctx, "get message decay id", GetMessageDecayIDQuery, source, target, ack)
}

// GetObjectDecayID returns the decay id of the latest broadcast of the named
// object since the given time.
func (d *Database) GetObjectDecayID(ctx context.Context, name string, since time.Time) (string, bool, error) {
	return d.lookup(ctx, "get object decay id", GetObjectDecayIDQuery, name, since.Unix())
}

func (d *Database) GetPendingMessages(ctx context.Context) ([]models.PendingMessage, error) {
	rows, err := d.db.QueryContext(ctx, SelectPendingMessagesQuery)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get pending messages", err)
	}
	defer rows.Close()

	var messages []models.PendingMessage
	for rows.Next() {
		var m models.PendingMessage
		if err := rows.Scan(&m.ID, &m.Source, &m.Target, &m.Message, &m.Local); err != nil {
			return nil, apperrors.NewDatabaseError("scan pending message", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("get pending messages", err)
	}
	return messages, nil
}

func (d *Database) GetPendingObjects(ctx context.Context, now time.Time) ([]models.PendingObject, error) {
	rows, err := d.db.QueryContext(ctx, SelectPendingObjectsQuery, now.Unix())
	if err != nil {
		return nil, apperrors.NewDatabaseError("get pending objects", err)
	}
	defer rows.Close()

	var objects []models.PendingObject
	for rows.Next() {
		var o models.PendingObject
		if err := rows.Scan(&o.ID, &o.Name, &o.Source, &o.Latitude, &o.Longitude,
			&o.SymbolTable, &o.SymbolCode, &o.Speed, &o.Course, &o.Altitude, &o.Status,
			&o.Kill, &o.Local, &o.DecayID, &o.BeaconSec, &o.BroadcastTs, &o.ExpireTs); err != nil {
			return nil, apperrors.NewDatabaseError("scan pending object", err)
		}
		objects = append(objects, o)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("get pending objects", err)
	}
	return objects, nil
}

func (d *Database) GetPendingPositions(ctx context.Context) ([]models.PendingPosition, error) {
	rows, err := d.db.QueryContext(ctx, SelectPendingPositionsQuery)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get pending positions", err)
	}
	defer rows.Close()

	var positions []models.PendingPosition
	for rows.Next() {
		var p models.PendingPosition
		if err := rows.Scan(&p.ID, &p.Source, &p.Latitude, &p.Longitude,
			&p.SymbolTable, &p.SymbolCode, &p.Speed, &p.Course, &p.Altitude, &p.Status, &p.Local); err != nil {
			return nil, apperrors.NewDatabaseError("scan pending position", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("get pending positions", err)
	}
	return positions, nil
}

// SetMessageAck records that target acknowledged the message source sent it
// under message number ack. source and target are the original sender and
// addressee.
func (d *Database) SetMessageAck(ctx context.Context, source, target, ack string) (int64, error) {
	return d.exec(ctx, "set message ack", SetMessageAckQuery, time.Now().Unix(), source, target, ack)
}

func (d *Database) SetMessageSent(ctx context.Context, id int64, decayID string, ts time.Time) (int64, error) {
	return d.exec(ctx, "set message sent", SetMessageSentQuery, decayID, ts.Unix(), id)
}

func (d *Database) SetMessageError(ctx context.Context, id int64) (int64, error) {
	return d.exec(ctx, "set message error", SetMessageErrorQuery, id)
}

func (d *Database) SetObjectSent(ctx context.Context, id int64, decayID string, ts time.Time) (int64, error) {
	return d.exec(ctx, "set object sent", SetObjectSentQuery, decayID, ts.Unix(), id)
}

func (d *Database) SetObjectError(ctx context.Context, id int64) (int64, error) {
	return d.exec(ctx, "set object error", SetObjectErrorQuery, id)
}

func (d *Database) SetPositionSent(ctx context.Context, id int64, ts time.Time) (int64, error) {
	return d.exec(ctx, "set position sent", SetPositionSentQuery, ts.Unix(), id)
}

func (d *Database) SetPositionError(ctx context.Context, id int64) (int64, error) {
	return d.exec(ctx, "set position error", SetPositionErrorQuery, id)
}
