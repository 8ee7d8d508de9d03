package errcode

import "fmt"

// Error represents a business error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code: e.Code,
		Msg:  fmt.Sprintf("%s: %v", e.Msg, err),
	}
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam   = New(1001, "invalid parameter")
	ErrInternalServer = New(1002, "internal server error")
	ErrUnauthorized   = New(1003, "unauthorized")
	ErrNotFound       = New(1004, "not found")

	// Auth errors (2xxx)
	ErrTokenInvalid    = New(2001, "token invalid")
	ErrTokenExpired    = New(2002, "token expired")
	ErrNotMessageOwner = New(2003, "not the message owner")

	// Conversation errors (3xxx)
	ErrConvNotFound       = New(3001, "conversation not found")
	ErrSelfConversation   = New(3002, "cannot start a conversation with yourself")
	ErrMissingParticipant = New(3003, "participant id missing")
	ErrConvCreateFailed   = New(3004, "conversation create failed")

	// Message errors (4xxx)
	ErrMessageNotFound = New(4001, "message not found")
	ErrEmptyContent    = New(4002, "message content is empty")
	ErrSendFailed      = New(4003, "message send failed")
	ErrEditFailed      = New(4004, "message edit failed")
	ErrDeleteFailed    = New(4005, "message delete failed")
	ErrMarkReadFailed  = New(4006, "mark read failed")

	// Gateway/feed errors (5xxx)
	ErrGatewayUnavailable = New(5001, "gateway unavailable")
	ErrFeedClosed         = New(5002, "change feed closed")
	ErrSubscribeFailed    = New(5003, "subscribe failed")
)
