package schema

import "errors"

// Errors returned by the schema package.
var (
	// ErrUnsupportedMessageType is returned by Resolve/Validate when no
	// request schema is indexed for the resolved key.
	ErrUnsupportedMessageType = errors.New("schema: unsupported message type")

	// ErrMissingMessageType is returned by Resolve when the document has
	// no "mType" field.
	ErrMissingMessageType = errors.New("schema: mType missing in JSON message")

	// ErrBadFilename is returned by Load for a schema file whose name
	// does not match the "<tag>-<direction>-<major>-<minor>-<micro>.json"
	// convention.
	ErrBadFilename = errors.New("schema: file name does not match the <tag>-<direction>-<major>-<minor>-<micro>.json convention")
)

// ViolationError reports a schema validation failure with enough detail
// for a messageError "rsp.error" field.
type ViolationError struct {
	MessageType MessageType
	Direction   Direction
	Path        string
	Keyword     string
	Err         error
}

func (e *ViolationError) Error() string {
	return e.Err.Error()
}

func (e *ViolationError) Unwrap() error {
	return e.Err
}
