// Package transport frames command packages between the gojostore shell and
// server.
package transport

import (
	"errors"
)

const (
	flagData byte = 0
	flagErr  byte = 1
)

// ErrInvalidPackage is returned when a frame can not be decoded.
var ErrInvalidPackage = errors.New("invalid package")

// Package is one request or response. Exactly one of Data and Err is
// meaningful; a package with a non-nil Err carries no data.
type Package struct {
	Data []byte
	Err  error
}

// RemoteError is an error reported by the other side of a connection.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string { return e.Msg }

// Encode turns a package into a frame body: a flag byte followed by the
// data or the error message.
func Encode(pkg Package) []byte {
	if pkg.Err != nil {
		msg := pkg.Err.Error()
		if msg == "" {
			msg = "internal server error"
		}
		out := make([]byte, 1+len(msg))
		out[0] = flagErr
		copy(out[1:], msg)
		return out
	}
	out := make([]byte, 1+len(pkg.Data))
	out[0] = flagData
	copy(out[1:], pkg.Data)
	return out
}

// Decode is the inverse of Encode. Errors come back as *RemoteError.
func Decode(body []byte) (Package, error) {
	if len(body) < 1 {
		return Package{}, ErrInvalidPackage
	}
	switch body[0] {
	case flagData:
		data := make([]byte, len(body)-1)
		copy(data, body[1:])
		return Package{Data: data}, nil
	case flagErr:
		return Package{Err: &RemoteError{Msg: string(body[1:])}}, nil
	default:
		return Package{}, ErrInvalidPackage
	}
}
