package core

// Error codes for domain errors.
const (
	ErrCodeUnauthenticated = "unauthenticated"
	ErrCodeChannelNotFound = "channel_not_found"
	ErrCodeChannelBanned   = "channel_banned"
	ErrCodeChannelInactive = "channel_inactive"
	ErrCodeNotAMember      = "not_a_member"
	ErrCodeNotInRoom       = "not_in_room"
	ErrCodeEmptyMessage    = "empty_message"
	ErrCodeMessageTooLong  = "message_too_long"
	ErrCodePersistence     = "persistence_error"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeBadRequest      = "bad_request"
	ErrCodeInternal        = "internal_error"
)

var (
	ErrUnauthenticated = coreError(ErrCodeUnauthenticated, "authentication required")
	ErrChannelNotFound = coreError(ErrCodeChannelNotFound, "channel not found")
	ErrChannelBanned   = coreError(ErrCodeChannelBanned, "channel is banned")
	ErrChannelInactive = coreError(ErrCodeChannelInactive, "channel is inactive")
	ErrNotAMember      = coreError(ErrCodeNotAMember, "not a member of this channel")
	ErrNotInRoom       = coreError(ErrCodeNotInRoom, "not joined to this channel")
	ErrEmptyMessage    = coreError(ErrCodeEmptyMessage, "message is empty")
	ErrMessageTooLong  = coreError(ErrCodeMessageTooLong, "message is too long")
	ErrPersistence     = coreError(ErrCodePersistence, "message could not be stored")
	ErrRateLimited     = coreError(ErrCodeRateLimited, "too many messages")
	ErrBadRequest      = coreError(ErrCodeBadRequest, "bad request")
	ErrInternal        = coreError(ErrCodeInternal, "internal error")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// Is matches any CoreError with the same code, so errors.Is works against the sentinels above.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	return ok && t.Code == e.Code
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// asCoreError maps any error to a CoreError suitable for sending to a client.
func asCoreError(err error) *CoreError {
	if ce, ok := err.(*CoreError); ok {
		return ce
	}
	return ErrInternal
}
