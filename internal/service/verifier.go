package service

import (
	"context"

	apperrors "aprsrelay/internal/errors"
	"aprsrelay/internal/models"

	"github.com/sirupsen/logrus"
)

const verifyKeyLength = 8

// Verifier checks verification keys sent over the air by stations. Store
// failures count as "no result", so a broken store never verifies anyone.
type Verifier struct {
	store  Store
	logger logrus.FieldLogger
}

// NewVerifier creates a verifier backed by store
func NewVerifier(store Store, logger logrus.FieldLogger) *Verifier {
	return &Verifier{store: store, logger: logger}
}

// TryVerify runs one verification attempt of source with the given user id
// and key
func (v *Verifier) TryVerify(ctx context.Context, id, source, key string) models.VerifyStatus {
	if len(source) == 0 || len(source) >= 10 || id == "" || len(key) != verifyKeyLength {
		return models.VerifyInvalidArgs
	}

	seen, err := v.store.GetUserMsgChecksum(ctx, id, source, key)
	if err != nil {
		v.degraded("get_user_msg_checksum", source, err)
		seen = false
	}
	if seen {
		return models.VerifyIgnoredResend
	}

	if _, err := v.store.SetUserMsgChecksum(ctx, id, source, key); err != nil {
		v.degraded("set_user_msg_checksum", source, err)
	}

	verified, err := v.store.IsUserVerified(ctx, source)
	if err != nil {
		v.degraded("is_user_verified", source, err)
		verified = false
	}
	if verified {
		return models.VerifyAlreadyVerified
	}

	affected, err := v.store.SetTryUserVerify(ctx, id, source, key)
	if err != nil {
		v.degraded("set_try_user_verify", source, err)
		affected = 0
	}
	if affected > 0 {
		return models.VerifySuccess
	}
	return models.VerifyFail
}

func (v *Verifier) degraded(operation, source string, err error) {
	apperrors.Entry(v.logger, apperrors.NewCollaboratorError("store", operation, err)).
		WithField(LogFieldSource, source).
		Warn("Store call failed during verification")
}
