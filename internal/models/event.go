package models

// InboundEvent is the normalized view of one message notification received
// from the bus
type InboundEvent struct {
	Source    string
	Target    string
	Body      string
	Path      string
	MessageID string
	Ack       string
	ReplyID   string
	IsToMe    bool
	IsAckOnly bool
}

// VerifyStatus is the outcome of one verification attempt
type VerifyStatus int

const (
	VerifyFail VerifyStatus = iota
	VerifySuccess
	VerifyAlreadyVerified
	VerifyIgnoredResend
	VerifyInvalidArgs
)

// String returns the reply text sent back to the station
func (s VerifyStatus) String() string {
	switch s {
	case VerifyInvalidArgs:
		return "Invalid arguments."
	case VerifyIgnoredResend:
		return "Resend detected and ignored, already replied."
	case VerifyAlreadyVerified:
		return "Already verified."
	case VerifySuccess:
		return "Verification successful!"
	default:
		return "Verification failed, check key and try again."
	}
}
