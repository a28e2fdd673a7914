package script

import (
	"github.com/ValentinKolb/rKV/lib/resp"
	lua "github.com/yuin/gopher-lua"
)

// toLua converts a command reply into the value redis.call returns. Replies
// are in protocol 2 shape, so maps arrive as flat arrays.
func toLua(L *lua.LState, v resp.Value) lua.LValue {
	switch v.Type {
	case resp.TypeSimpleString:
		return statusTable(L, v.Str)
	case resp.TypeError:
		return errorTable(L, v.Str)
	case resp.TypeInteger:
		return lua.LNumber(v.Int)
	case resp.TypeBulkString:
		if v.Null {
			return lua.LFalse
		}
		return lua.LString(v.Bulk)
	case resp.TypeArray, resp.TypeSet, resp.TypePush, resp.TypeMap:
		if v.Null {
			return lua.LFalse
		}
		tbl := L.CreateTable(len(v.Elems), 0)
		for _, e := range v.Elems {
			tbl.Append(toLua(L, e))
		}
		return tbl
	case resp.TypeBoolean:
		if v.Bool {
			return lua.LNumber(1)
		}
		return lua.LFalse
	case resp.TypeDouble:
		return lua.LString(resp.FormatFloat(v.Float))
	default:
		return lua.LFalse
	}
}

// toRESP converts the return value of a script into a reply. Numbers are
// truncated to integers and arrays stop at the first nil.
func toRESP(lv lua.LValue) resp.Value {
	switch v := lv.(type) {
	case lua.LNumber:
		return resp.Integer(int64(v))
	case lua.LString:
		return resp.BulkString(string(v))
	case lua.LBool:
		if v {
			return resp.Integer(1)
		}
		return resp.NullBulk()
	case *lua.LTable:
		if s, ok := v.RawGetString("ok").(lua.LString); ok {
			return resp.SimpleString(string(s))
		}
		if s, ok := v.RawGetString("err").(lua.LString); ok {
			return resp.Error(string(s))
		}
		var elems []resp.Value
		for i := 1; ; i++ {
			e := v.RawGetInt(i)
			if e == lua.LNil {
				break
			}
			elems = append(elems, toRESP(e))
		}
		return resp.Array(elems...)
	default:
		return resp.NullBulk()
	}
}

func statusTable(L *lua.LState, s string) *lua.LTable {
	tbl := L.CreateTable(0, 1)
	tbl.RawSetString("ok", lua.LString(s))
	return tbl
}

func errorTable(L *lua.LState, s string) *lua.LTable {
	tbl := L.CreateTable(0, 1)
	tbl.RawSetString("err", lua.LString(s))
	return tbl
}
