package messaging

import "errors"

// ErrTransportClosed is returned by SendMessage on a closed transport.
var ErrTransportClosed = errors.New("messaging: transport is closed")
