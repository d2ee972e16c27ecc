package command

import (
	"kvdb/internal/object"
	"kvdb/internal/proto"
)

func (r *Registry) registerList() {
	r.add(Spec{Name: "RPUSH", Arity: -3, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procPush(false)})
	r.add(Spec{Name: "LPUSH", Arity: -3, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procPush(true)})
	r.add(Spec{Name: "LPOP", Arity: 2, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procPop(true)})
	r.add(Spec{Name: "RPOP", Arity: 2, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procPop(false)})
	r.add(Spec{Name: "LLEN", Arity: 2, FirstKey: 1, LastKey: 1, Step: 1, Proc: procLLen})
	r.add(Spec{Name: "LRANGE", Arity: 4, FirstKey: 1, LastKey: 1, Step: 1, Proc: procLRange})
}

func fetchOrCreateList(ctx *Context, key string) (*object.Object, error) {
	v, ok := ctx.KS.LookupWrite(ctx.DB, key)
	if !ok {
		v = object.NewList()
		if err := ctx.KS.Insert(ctx.DB, key, v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func procPush(head bool) Proc {
	return func(ctx *Context, args []string) []byte {
		v, err := fetchOrCreateList(ctx, args[1])
		if err != nil {
			return proto.EncodeError("ERR " + err.Error())
		}
		for _, item := range args[2:] {
			if err := v.ListPush([]byte(item), head, ctx.Limits); err != nil {
				return replyFromObjectErr(err)
			}
		}
		length, _ := v.ListLen()
		return proto.EncodeInteger(int64(length))
	}
}

func procPop(head bool) Proc {
	return func(ctx *Context, args []string) []byte {
		v, ok := ctx.KS.LookupWrite(ctx.DB, args[1])
		if !ok {
			return proto.EncodeNullBulkString()
		}
		val, ok, err := v.ListPop(head)
		if err != nil {
			return replyFromObjectErr(err)
		}
		if !ok {
			return proto.EncodeNullBulkString()
		}
		if n, _ := v.ListLen(); n == 0 {
			ctx.KS.Delete(ctx.DB, args[1])
		}
		return proto.EncodeBulkString(val)
	}
}

func procLLen(ctx *Context, args []string) []byte {
	v, ok := ctx.KS.LookupRead(ctx.DB, args[1])
	if !ok {
		return proto.EncodeInteger(0)
	}
	n, err := v.ListLen()
	if err != nil {
		return replyFromObjectErr(err)
	}
	return proto.EncodeInteger(int64(n))
}

func procLRange(ctx *Context, args []string) []byte {
	start, ok1 := parseInt(args[2])
	stop, ok2 := parseInt(args[3])
	if !ok1 || !ok2 {
		return proto.EncodeError("ERR value is not an integer or out of range")
	}
	v, ok := ctx.KS.LookupRead(ctx.DB, args[1])
	if !ok {
		return proto.EncodeArray(nil)
	}
	items, err := v.ListRange(start, stop)
	if err != nil {
		return replyFromObjectErr(err)
	}
	return proto.EncodeArray(items)
}
