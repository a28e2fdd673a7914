package client

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// ReplyError is an error reply of the server.
type ReplyError struct {
	Msg string
}

func (e *ReplyError) Error() string {
	return e.Msg
}

// Kind returns the error prefix (ERR, WRONGTYPE, NOSCRIPT, ...).
func (e *ReplyError) Kind() string {
	kind, _, _ := strings.Cut(e.Msg, " ")
	return kind
}

// checkReply turns an error reply into a *ReplyError.
func checkReply(v resp.Value, err error) (resp.Value, error) {
	if err != nil {
		return resp.Value{}, err
	}
	if v.IsError() {
		return resp.Value{}, &ReplyError{Msg: v.Str}
	}
	return v, nil
}

func asInt(v resp.Value, err error) (int64, error) {
	v, err = checkReply(v, err)
	if err != nil {
		return 0, err
	}
	if v.Type != resp.TypeInteger {
		return 0, unexpected(v, resp.TypeInteger)
	}
	return v.Int, nil
}

func asBool(v resp.Value, err error) (bool, error) {
	n, err := asInt(v, err)
	return n == 1, err
}

// asBulk returns the payload of a bulk string, found is false for a null reply.
func asBulk(v resp.Value, err error) ([]byte, bool, error) {
	v, err = checkReply(v, err)
	if err != nil {
		return nil, false, err
	}
	if v.IsNull() {
		return nil, false, nil
	}
	if v.Type != resp.TypeBulkString {
		return nil, false, unexpected(v, resp.TypeBulkString)
	}
	return v.Bulk, true, nil
}

// asStatus accepts a status reply (OK) or a null reply, which reports a
// condition that was not met (SET NX/XX).
func asStatus(v resp.Value, err error) (bool, error) {
	v, err = checkReply(v, err)
	if err != nil {
		return false, err
	}
	if v.IsNull() {
		return false, nil
	}
	return true, nil
}

func unexpected(v resp.Value, want resp.Type) error {
	return fmt.Errorf("unexpected reply type %s, expected %s", v.Type, want)
}

// args converts string arguments to the wire representation.
func args(cmd string, in ...string) [][]byte {
	out := make([][]byte, 0, len(in)+1)
	out = append(out, []byte(cmd))
	for _, a := range in {
		out = append(out, []byte(a))
	}
	return out
}
