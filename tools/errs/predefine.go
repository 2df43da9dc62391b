package errs

const (
	ServerInternalError = 500
	ArgsError           = 1001
	RecordNotFoundError = 1004
	MalformedPathError  = 1005
	ConnClosedError     = 1006

	UnauthenticatedError = 1501
	TokenInvalidError    = 1502
	NotRoomMemberError   = 1503
)

var (
	ErrInternalServer  = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs            = NewCodeError(ArgsError, "ArgsError")
	ErrRecordNotFound  = NewCodeError(RecordNotFoundError, "RecordNotFoundError")
	ErrMalformedPath   = NewCodeError(MalformedPathError, "MalformedPathError")
	ErrConnClosed      = NewCodeError(ConnClosedError, "ConnClosedError")
	ErrUnauthenticated = NewCodeError(UnauthenticatedError, "UnauthenticatedError")
	ErrTokenInvalid    = NewCodeError(TokenInvalidError, "TokenInvalidError")
	ErrNotRoomMember   = NewCodeError(NotRoomMemberError, "NotRoomMemberError")
)
