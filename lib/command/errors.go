package command

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/rKV/lib/cluster"
	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/lib/store"
)

// Error is a request level error. It is sent to the client as an error reply
// "<Kind> <Msg>" and never closes the connection.
type Error struct {
	Kind string // error prefix, e.g. ERR or WRONGTYPE
	Msg  string
}

func (e *Error) Error() string {
	return e.Kind + " " + e.Msg
}

// Errf creates a generic ERR error.
func Errf(format string, args ...any) *Error {
	return &Error{Kind: "ERR", Msg: fmt.Sprintf(format, args...)}
}

var (
	ErrWrongType       = &Error{Kind: "WRONGTYPE", Msg: "Operation against a key holding the wrong kind of value"}
	ErrSyntax          = Errf("syntax error")
	ErrNotInteger      = Errf("value is not an integer or out of range")
	ErrNotFloat        = Errf("value is not a valid float")
	ErrNotPositive     = Errf("value is out of range, must be positive")
	ErrOverflow        = Errf("increment or decrement would overflow")
	ErrNaN             = Errf("increment would produce NaN or Infinity")
	ErrIndexOutOfRange = Errf("index out of range")
	ErrNoSuchKey       = Errf("no such key")
	ErrMinMaxNotFloat  = Errf("min or max is not a float")
	ErrHashNotInteger  = Errf("hash value is not an integer")
	ErrHashNotFloat    = Errf("hash value is not a float")
	ErrInvalidDB       = Errf("DB index is out of range")
	ErrInvalidCursor   = Errf("invalid cursor")
	ErrSameObject      = Errf("source and destination objects are the same")
	ErrNoScript        = &Error{Kind: "NOSCRIPT", Msg: "No matching script. Please use EVAL."}
	ErrNotAllowed      = Errf("This Redis command is not allowed from script")
)

func wrongArgs(name string) *Error {
	return Errf("wrong number of arguments for '%s' command", name)
}

func unknownCommand(name string, args [][]byte) *Error {
	msg := fmt.Sprintf("unknown command '%s', with args beginning with:", name)
	for i, a := range args {
		if i == 8 {
			break
		}
		msg += fmt.Sprintf(" '%s'", a)
	}
	return Errf("%s", msg)
}

// ToReply converts any error returned by a handler into an error reply.
func ToReply(err error) resp.Value {
	var ce *Error
	var se *store.Error
	var re *cluster.RedirectError
	switch {
	case errors.As(err, &ce):
		return resp.Error(ce.Error())
	case errors.As(err, &re):
		return resp.Error(re.Error())
	case errors.Is(err, cluster.ErrCrossSlot):
		return resp.Error(cluster.ErrCrossSlot.Error())
	case errors.As(err, &se):
		if errors.Is(se, store.ErrInvalidCursor) {
			return resp.Error(ErrInvalidCursor.Error())
		}
		return resp.Error("ERR internal error: " + se.Msg)
	default:
		return resp.Error("ERR internal error: " + err.Error())
	}
}
