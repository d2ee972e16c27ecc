package command

import (
	"strings"

	"kvdb/internal/keyspace"
	"kvdb/internal/object"
	"kvdb/internal/proto"
)

func (r *Registry) registerString() {
	r.add(Spec{Name: "SET", Arity: -3, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procSet})
	r.add(Spec{Name: "GET", Arity: 2, FirstKey: 1, LastKey: 1, Step: 1, Proc: procGet})
	r.add(Spec{Name: "INCR", Arity: 2, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procIncr})
	r.add(Spec{Name: "DECR", Arity: 2, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procDecr})
	r.add(Spec{Name: "INCRBY", Arity: 3, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procIncrBy})
	r.add(Spec{Name: "DECRBY", Arity: 3, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procDecrBy})
}

// procSet implements SET key value [EX seconds | PX milliseconds],
// replacing whatever value (of any type) previously lived at key.
func procSet(ctx *Context, args []string) []byte {
	key, val := args[1], args[2]
	var deadline int64
	hasExpiry := false

	if len(args) > 3 {
		if len(args) != 5 {
			return proto.EncodeError("ERR syntax error")
		}
		opt := strings.ToUpper(args[3])
		n, ok := parseInt64(args[4])
		if !ok {
			return proto.EncodeError("ERR value is not an integer or out of range")
		}
		switch opt {
		case "EX":
			deadline = ctx.now() + n*1000
		case "PX":
			deadline = ctx.now() + n
		default:
			return proto.EncodeError("ERR syntax error")
		}
		hasExpiry = true
	}

	ctx.KS.Set(ctx.DB, key, object.NewString([]byte(val)))
	if hasExpiry {
		ctx.KS.SetExpiry(ctx.DB, key, deadline)
	}
	return proto.EncodeSimpleString("OK")
}

func procGet(ctx *Context, args []string) []byte {
	v, ok := ctx.KS.LookupRead(ctx.DB, args[1])
	if !ok {
		return proto.EncodeNullBulkString()
	}
	b, err := v.StringBytes()
	if err != nil {
		return replyFromObjectErr(err)
	}
	return proto.EncodeBulkString(b)
}

func procIncr(ctx *Context, args []string) []byte { return incrByN(ctx, args[1], 1) }
func procDecr(ctx *Context, args []string) []byte { return incrByN(ctx, args[1], -1) }

func procIncrBy(ctx *Context, args []string) []byte {
	n, ok := parseInt64(args[2])
	if !ok {
		return proto.EncodeError("ERR value is not an integer or out of range")
	}
	return incrByN(ctx, args[1], n)
}

func procDecrBy(ctx *Context, args []string) []byte {
	n, ok := parseInt64(args[2])
	if !ok {
		return proto.EncodeError("ERR value is not an integer or out of range")
	}
	return incrByN(ctx, args[1], -n)
}

func incrByN(ctx *Context, key string, delta int64) []byte {
	v, ok := ctx.KS.LookupWrite(ctx.DB, key)
	if !ok {
		v = object.NewStringInt(0)
		if err := ctx.KS.Insert(ctx.DB, key, v); err != nil && err != keyspace.ErrKeyExists {
			return proto.EncodeError("ERR " + err.Error())
		}
	}
	if v.IsShared() {
		// IncrBy mutates in place; a shared constant must be copied
		// into a private value (and the keyspace repointed at it)
		// before any in-place mutation touches it.
		cp := v.PrivateCopy()
		ctx.KS.Set(ctx.DB, key, cp)
		v = cp
	}
	next, err := v.IncrBy(delta)
	if err != nil {
		return replyFromObjectErr(err)
	}
	return proto.EncodeInteger(next)
}
