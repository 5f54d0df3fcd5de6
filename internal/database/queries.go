package database

// Verification queries
const (
	IsUserVerifiedQuery = `
		SELECT 1 FROM users
		WHERE UPPER(callsign) = UPPER(?) AND verified = 1
		LIMIT 1
	`

	GetUserMsgChecksumQuery = `
		SELECT 1 FROM user_msg_checksums
		WHERE user_id = ? AND UPPER(callsign) = UPPER(?) AND UPPER(verify_key) = UPPER(?)
		LIMIT 1
	`

	SetUserMsgChecksumQuery = `
		INSERT OR IGNORE INTO user_msg_checksums (user_id, callsign, verify_key, create_ts)
		VALUES (?, UPPER(?), UPPER(?), ?)
	`

	SetTryUserVerifyQuery = `
		UPDATE users
		SET verified = 1, verified_ts = ?
		WHERE id = ? AND UPPER(callsign) = UPPER(?) AND UPPER(verify_key) = UPPER(?) AND verified = 0
	`
)

// Session and acknowledgement queries
const (
	IsUserSessionQuery = `
		SELECT 1 FROM sessions
		WHERE UPPER(callsign) = UPPER(?) AND last_seen_ts >= ?
		LIMIT 1
	`

	GetLastMessageIDQuery = `
		SELECT msgid FROM inbound_messages
		WHERE UPPER(source) = UPPER(?) AND msgid != ''
		ORDER BY received_ts DESC, id DESC
		LIMIT 1
	`

	GetMessageDecayIDQuery = `
		SELECT decay_id FROM messages
		WHERE UPPER(source) = UPPER(?) AND UPPER(target) = UPPER(?) AND msg_ack = ? AND decay_id != ''
		ORDER BY broadcast_ts DESC, id DESC
		LIMIT 1
	`

	SetMessageAckQuery = `
		UPDATE messages
		SET acked = 1, acked_ts = ?
		WHERE UPPER(source) = UPPER(?) AND UPPER(target) = UPPER(?) AND msg_ack = ? AND acked = 0
	`

	GetObjectDecayIDQuery = `
		SELECT decay_id FROM objects
		WHERE name = ? AND broadcast_ts >= ? AND decay_id != ''
		ORDER BY broadcast_ts DESC, id DESC
		LIMIT 1
	`
)

// Pending row queries
const (
	SelectPendingMessagesQuery = `
		SELECT id, source, target, message, local
		FROM messages
		WHERE sent = 0 AND error = 0
		ORDER BY id
	`

	SelectPendingObjectsQuery = `
		SELECT id, name, source, latitude, longitude, symbol_table, symbol_code,
		       speed, course, altitude, status, kill, local, decay_id,
		       beacon, broadcast_ts, expire_ts
		FROM objects
		WHERE error = 0
		  AND (expire_ts = 0 OR expire_ts > ?1)
		  AND (sent = 0 OR (beacon > 0 AND broadcast_ts + beacon <= ?1))
		ORDER BY id
	`

	SelectPendingPositionsQuery = `
		SELECT id, source, latitude, longitude, symbol_table, symbol_code,
		       speed, course, altitude, status, local
		FROM positions
		WHERE sent = 0 AND error = 0
		ORDER BY id
	`
)

// Mark queries
const (
	SetMessageSentQuery = `
		UPDATE messages SET sent = 1, decay_id = ?, broadcast_ts = ? WHERE id = ?
	`

	SetMessageErrorQuery = `
		UPDATE messages SET error = 1 WHERE id = ?
	`

	SetObjectSentQuery = `
		UPDATE objects SET sent = 1, decay_id = ?, broadcast_ts = ? WHERE id = ?
	`

	SetObjectErrorQuery = `
		UPDATE objects SET error = 1 WHERE id = ?
	`

	SetPositionSentQuery = `
		UPDATE positions SET sent = 1, broadcast_ts = ? WHERE id = ?
	`

	SetPositionErrorQuery = `
		UPDATE positions SET error = 1 WHERE id = ?
	`
)
