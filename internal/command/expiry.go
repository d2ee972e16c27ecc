package command

import (
	"kvdb/internal/proto"
)

func (r *Registry) registerExpiry() {
	r.add(Spec{Name: "EXPIRE", Arity: 3, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procExpire})
	r.add(Spec{Name: "PEXPIRE", Arity: 3, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procPExpire})
	r.add(Spec{Name: "EXPIREAT", Arity: 3, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procExpireAt})
	r.add(Spec{Name: "PEXPIREAT", Arity: 3, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procPExpireAt})
	r.add(Spec{Name: "TTL", Arity: 2, FirstKey: 1, LastKey: 1, Step: 1, Proc: procTTL})
	r.add(Spec{Name: "PTTL", Arity: 2, FirstKey: 1, LastKey: 1, Step: 1, Proc: procPTTL})
	r.add(Spec{Name: "PERSIST", Arity: 2, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procPersist})
}

func setExpiryReply(ctx *Context, key string, deadline int64) []byte {
	if err := ctx.KS.SetExpiry(ctx.DB, key, deadline); err != nil {
		return proto.EncodeInteger(0)
	}
	return proto.EncodeInteger(1)
}

func procExpire(ctx *Context, args []string) []byte {
	n, ok := parseInt64(args[2])
	if !ok {
		return proto.EncodeError("ERR value is not an integer or out of range")
	}
	return setExpiryReply(ctx, args[1], ctx.now()+n*1000)
}

func procPExpire(ctx *Context, args []string) []byte {
	n, ok := parseInt64(args[2])
	if !ok {
		return proto.EncodeError("ERR value is not an integer or out of range")
	}
	return setExpiryReply(ctx, args[1], ctx.now()+n)
}

func procExpireAt(ctx *Context, args []string) []byte {
	secs, ok := parseInt64(args[2])
	if !ok {
		return proto.EncodeError("ERR value is not an integer or out of range")
	}
	return setExpiryReply(ctx, args[1], secs*1000)
}

func procPExpireAt(ctx *Context, args []string) []byte {
	ms, ok := parseInt64(args[2])
	if !ok {
		return proto.EncodeError("ERR value is not an integer or out of range")
	}
	return setExpiryReply(ctx, args[1], ms)
}

// procTTL and procPTTL report -2 if the key does not exist, -1 if it
// exists without an expiration, matching upstream semantics.
func procTTL(ctx *Context, args []string) []byte {
	return ttlReply(ctx, args[1], 1000)
}

func procPTTL(ctx *Context, args []string) []byte {
	return ttlReply(ctx, args[1], 1)
}

func ttlReply(ctx *Context, key string, unitMs int64) []byte {
	if !ctx.KS.Exists(ctx.DB, key) {
		return proto.EncodeInteger(-2)
	}
	deadline, ok := ctx.KS.GetExpiry(ctx.DB, key)
	if !ok {
		return proto.EncodeInteger(-1)
	}
	remaining := deadline - ctx.now()
	if remaining < 0 {
		remaining = 0
	}
	return proto.EncodeInteger(remaining / unitMs)
}

func procPersist(ctx *Context, args []string) []byte {
	had, err := ctx.KS.RemoveExpiry(ctx.DB, args[1])
	if err != nil {
		return proto.EncodeInteger(0)
	}
	if !had {
		return proto.EncodeInteger(0)
	}
	return proto.EncodeInteger(1)
}
