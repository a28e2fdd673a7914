package command

import (
	"strconv"
	"strings"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func init() {
	register(
		&Command{Name: "json.set", Min: 4, Max: 5, Flags: FlagWrite, FirstKey: 1, LastKey: 1, Step: 1, Handler: jsonSet},
		&Command{Name: "json.get", Min: 2, Max: -1, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: jsonGet},
		&Command{Name: "json.del", Min: 2, Max: 3, Flags: FlagWrite, FirstKey: 1, LastKey: 1, Step: 1, Handler: jsonDel},
		&Command{Name: "json.type", Min: 2, Max: 3, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: jsonType},
		&Command{Name: "json.numincrby", Min: 4, Max: 4, Flags: FlagWrite, FirstKey: 1, LastKey: 1, Step: 1, Handler: jsonNumIncrBy},
		&Command{Name: "json.mget", Min: 3, Max: -1, Flags: FlagReadonly, FirstKey: 1, LastKey: -2, Step: 1, Handler: jsonMGet},
	)
}

// jsonPath is a document path. "$.a.b[0]" and ".a.b[0]" both address the
// same value, the "$" form answers arrays of matches.
type jsonPath struct {
	raw    string
	gjson  string // "" addresses the root
	dollar bool
}

func parseJSONPath(p string) jsonPath {
	jp := jsonPath{raw: p, dollar: strings.HasPrefix(p, "$")}
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")
	p = strings.ReplaceAll(p, "[", ".")
	p = strings.ReplaceAll(p, "]", "")
	jp.gjson = strings.TrimPrefix(p, ".")
	return jp
}

func (p jsonPath) root() bool { return p.gjson == "" }

func (p jsonPath) get(doc db.Document) gjson.Result {
	if p.root() {
		return gjson.Parse(string(doc))
	}
	return gjson.Get(string(doc), p.gjson)
}

func pathArg(c *Ctx, i int) jsonPath {
	if i < len(c.Args) {
		return parseJSONPath(c.Arg(i))
	}
	return parseJSONPath("$")
}

func errNoPath(p jsonPath) *Error {
	return Errf("Path '%s' does not exist", p.raw)
}

func jsonSet(c *Ctx) (resp.Value, error) {
	p, value := parseJSONPath(c.Arg(2)), c.Arg(3)
	var nx, xx bool
	if c.NArgs() == 4 {
		switch {
		case c.Is(4, "NX"):
			nx = true
		case c.Is(4, "XX"):
			xx = true
		default:
			return resp.Value{}, ErrSyntax
		}
	}
	if !gjson.Valid(value) {
		return resp.Value{}, Errf("invalid JSON value")
	}

	doc, sv, err := getDocument(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	if sv == nil && !p.root() {
		return resp.Value{}, Errf("new objects must be created at the root")
	}
	exists := sv != nil && p.get(doc).Exists()
	if (nx && exists) || (xx && !exists) {
		return resp.NullBulk(), nil
	}

	next := db.Document(value)
	if !p.root() {
		updated, err := sjson.SetRaw(string(doc), p.gjson, value)
		if err != nil {
			return resp.Value{}, Errf("%v", err)
		}
		next = db.Document(updated)
	}
	out := db.NewStoredValue(next)
	if sv != nil {
		out.ExpireAt = sv.ExpireAt
	}
	if err := c.KS.Set(c.Key(1), out); err != nil {
		return resp.Value{}, err
	}
	return resp.OK, nil
}

// jsonValue renders the value at p: "$" paths as an array of matches,
// legacy paths as the value itself.
func jsonValue(doc db.Document, p jsonPath) (string, bool) {
	r := p.get(doc)
	if p.dollar {
		if !r.Exists() {
			return "[]", true
		}
		return "[" + r.Raw + "]", true
	}
	return r.Raw, r.Exists()
}

func jsonGet(c *Ctx) (resp.Value, error) {
	doc, sv, err := getDocument(c.KS, c.Key(1))
	if err != nil || sv == nil {
		return resp.NullBulk(), err
	}
	var paths []jsonPath
	for i := 2; i < len(c.Args); i++ {
		// formatting options of the JSON module are accepted and ignored
		if c.Is(i, "INDENT") || c.Is(i, "NEWLINE") || c.Is(i, "SPACE") {
			i++
			continue
		}
		paths = append(paths, parseJSONPath(c.Arg(i)))
	}
	switch len(paths) {
	case 0:
		return resp.BulkString(string(doc)), nil
	case 1:
		v, ok := jsonValue(doc, paths[0])
		if !ok {
			return resp.Value{}, errNoPath(paths[0])
		}
		return resp.BulkString(v), nil
	}
	out := "{}"
	for _, p := range paths {
		v, ok := jsonValue(doc, p)
		if !ok {
			return resp.Value{}, errNoPath(p)
		}
		if out, err = sjson.SetRaw(out, escapeJSONKey(p.raw), v); err != nil {
			return resp.Value{}, Errf("%v", err)
		}
	}
	return resp.BulkString(out), nil
}

// escapeJSONKey makes sjson treat a path string as one literal key.
func escapeJSONKey(k string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(k)
}

func jsonDel(c *Ctx) (resp.Value, error) {
	doc, sv, err := getDocument(c.KS, c.Key(1))
	if err != nil || sv == nil {
		return resp.Integer(0), err
	}
	p := pathArg(c, 2)
	if p.root() {
		_, err := c.KS.Delete(c.Key(1))
		return resp.Integer(1), err
	}
	if !p.get(doc).Exists() {
		return resp.Integer(0), nil
	}
	updated, err := sjson.Delete(string(doc), p.gjson)
	if err != nil {
		return resp.Value{}, Errf("%v", err)
	}
	if err := c.KS.Set(c.Key(1), &db.StoredValue{Value: db.Document(updated), ExpireAt: sv.ExpireAt}); err != nil {
		return resp.Value{}, err
	}
	return resp.Integer(1), nil
}

func jsonTypeName(r gjson.Result) string {
	switch r.Type {
	case gjson.Null:
		return "null"
	case gjson.False, gjson.True:
		return "boolean"
	case gjson.String:
		return "string"
	case gjson.Number:
		if strings.ContainsAny(r.Raw, ".eE") {
			return "number"
		}
		return "integer"
	default:
		if r.IsArray() {
			return "array"
		}
		return "object"
	}
}

func jsonType(c *Ctx) (resp.Value, error) {
	doc, sv, err := getDocument(c.KS, c.Key(1))
	if err != nil || sv == nil {
		return resp.NullBulk(), err
	}
	p := pathArg(c, 2)
	r := p.get(doc)
	if p.dollar {
		if !r.Exists() {
			return resp.Array(), nil
		}
		return resp.Array(resp.BulkString(jsonTypeName(r))), nil
	}
	if !r.Exists() {
		return resp.NullBulk(), nil
	}
	return resp.SimpleString(jsonTypeName(r)), nil
}

func jsonNumIncrBy(c *Ctx) (resp.Value, error) {
	p := parseJSONPath(c.Arg(2))
	delta, err := c.Float(3)
	if err != nil {
		return resp.Value{}, err
	}
	doc, sv, err := getDocument(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	if sv == nil {
		return resp.Value{}, ErrNoSuchKey
	}
	r := p.get(doc)
	if !r.Exists() {
		return resp.Value{}, errNoPath(p)
	}
	if r.Type != gjson.Number {
		return resp.Value{}, Errf("expected number but found %s", jsonTypeName(r))
	}

	var text string
	if jsonTypeName(r) == "integer" && delta == float64(int64(delta)) && !strings.ContainsAny(c.Arg(3), ".eE") {
		text = strconv.FormatInt(r.Int()+int64(delta), 10)
	} else {
		f := r.Float() + delta
		text = formatFloat(f)
		if !strings.ContainsAny(text, ".eE") {
			text += ".0"
		}
	}

	updated := text
	if !p.root() {
		if updated, err = sjson.SetRaw(string(doc), p.gjson, text); err != nil {
			return resp.Value{}, Errf("%v", err)
		}
	}
	if err := c.KS.Set(c.Key(1), &db.StoredValue{Value: db.Document(updated), ExpireAt: sv.ExpireAt}); err != nil {
		return resp.Value{}, err
	}
	if p.dollar {
		return resp.BulkString("[" + text + "]"), nil
	}
	return resp.BulkString(text), nil
}

func jsonMGet(c *Ctx) (resp.Value, error) {
	p := parseJSONPath(c.Arg(len(c.Args) - 1))
	out := make([]resp.Value, 0, c.NArgs()-1)
	for _, k := range c.Args[1 : len(c.Args)-1] {
		doc, sv, err := getDocument(c.KS, string(k))
		if err == ErrWrongType || (err == nil && sv == nil) {
			out = append(out, resp.NullBulk())
			continue
		}
		if err != nil {
			return resp.Value{}, err
		}
		if v, ok := jsonValue(doc, p); ok {
			out = append(out, resp.BulkString(v))
		} else {
			out = append(out, resp.NullBulk())
		}
	}
	return resp.Array(out...), nil
}
