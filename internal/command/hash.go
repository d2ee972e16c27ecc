package command

import (
	"kvdb/internal/object"
	"kvdb/internal/proto"
)

func (r *Registry) registerHash() {
	r.add(Spec{Name: "HSET", Arity: -4, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procHSet})
	r.add(Spec{Name: "HGET", Arity: 3, FirstKey: 1, LastKey: 1, Step: 1, Proc: procHGet})
	r.add(Spec{Name: "HDEL", Arity: -3, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procHDel})
	r.add(Spec{Name: "HGETALL", Arity: 2, FirstKey: 1, LastKey: 1, Step: 1, Proc: procHGetAll})
	r.add(Spec{Name: "HLEN", Arity: 2, FirstKey: 1, LastKey: 1, Step: 1, Proc: procHLen})
}

func procHSet(ctx *Context, args []string) []byte {
	fieldsAndValues := args[2:]
	if len(fieldsAndValues)%2 != 0 {
		return proto.EncodeError("ERR wrong number of arguments for 'hset' command")
	}
	v, ok := ctx.KS.LookupWrite(ctx.DB, args[1])
	if !ok {
		v = object.NewHash()
		if err := ctx.KS.Insert(ctx.DB, args[1], v); err != nil {
			return proto.EncodeError("ERR " + err.Error())
		}
	}
	var n int64
	for i := 0; i < len(fieldsAndValues); i += 2 {
		isNew, err := v.HashSet([]byte(fieldsAndValues[i]), []byte(fieldsAndValues[i+1]), ctx.Limits)
		if err != nil {
			return replyFromObjectErr(err)
		}
		if isNew {
			n++
		}
	}
	return proto.EncodeInteger(n)
}

func procHGet(ctx *Context, args []string) []byte {
	v, ok := ctx.KS.LookupRead(ctx.DB, args[1])
	if !ok {
		return proto.EncodeNullBulkString()
	}
	val, ok, err := v.HashGet([]byte(args[2]))
	if err != nil {
		return replyFromObjectErr(err)
	}
	if !ok {
		return proto.EncodeNullBulkString()
	}
	return proto.EncodeBulkString(val)
}

func procHDel(ctx *Context, args []string) []byte {
	v, ok := ctx.KS.LookupWrite(ctx.DB, args[1])
	if !ok {
		return proto.EncodeInteger(0)
	}
	var n int64
	for _, field := range args[2:] {
		removed, err := v.HashDel([]byte(field))
		if err != nil {
			return replyFromObjectErr(err)
		}
		if removed {
			n++
		}
	}
	if length, _ := v.HashLen(); length == 0 {
		ctx.KS.Delete(ctx.DB, args[1])
	}
	return proto.EncodeInteger(n)
}

func procHGetAll(ctx *Context, args []string) []byte {
	v, ok := ctx.KS.LookupRead(ctx.DB, args[1])
	if !ok {
		return proto.EncodeArray(nil)
	}
	pairs, err := v.HashGetAll()
	if err != nil {
		return replyFromObjectErr(err)
	}
	return proto.EncodeArray(pairs)
}

func procHLen(ctx *Context, args []string) []byte {
	v, ok := ctx.KS.LookupRead(ctx.DB, args[1])
	if !ok {
		return proto.EncodeInteger(0)
	}
	n, err := v.HashLen()
	if err != nil {
		return replyFromObjectErr(err)
	}
	return proto.EncodeInteger(int64(n))
}
