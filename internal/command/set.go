package command

import (
	"kvdb/internal/object"
	"kvdb/internal/proto"
)

func (r *Registry) registerSet() {
	r.add(Spec{Name: "SADD", Arity: -3, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procSAdd})
	r.add(Spec{Name: "SREM", Arity: -3, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procSRem})
	r.add(Spec{Name: "SMEMBERS", Arity: 2, FirstKey: 1, LastKey: 1, Step: 1, Proc: procSMembers})
	r.add(Spec{Name: "SISMEMBER", Arity: 3, FirstKey: 1, LastKey: 1, Step: 1, Proc: procSIsMember})
	r.add(Spec{Name: "SCARD", Arity: 2, FirstKey: 1, LastKey: 1, Step: 1, Proc: procSCard})
}

func procSAdd(ctx *Context, args []string) []byte {
	v, ok := ctx.KS.LookupWrite(ctx.DB, args[1])
	if !ok {
		v = object.NewSet()
		if err := ctx.KS.Insert(ctx.DB, args[1], v); err != nil {
			return proto.EncodeError("ERR " + err.Error())
		}
	}
	var n int64
	for _, member := range args[2:] {
		added, err := v.SetAdd([]byte(member), ctx.Limits)
		if err != nil {
			return replyFromObjectErr(err)
		}
		if added {
			n++
		}
	}
	return proto.EncodeInteger(n)
}

func procSRem(ctx *Context, args []string) []byte {
	v, ok := ctx.KS.LookupWrite(ctx.DB, args[1])
	if !ok {
		return proto.EncodeInteger(0)
	}
	var n int64
	for _, member := range args[2:] {
		removed, err := v.SetRemove([]byte(member))
		if err != nil {
			return replyFromObjectErr(err)
		}
		if removed {
			n++
		}
	}
	if card, _ := v.SetCard(); card == 0 {
		ctx.KS.Delete(ctx.DB, args[1])
	}
	return proto.EncodeInteger(n)
}

func procSMembers(ctx *Context, args []string) []byte {
	v, ok := ctx.KS.LookupRead(ctx.DB, args[1])
	if !ok {
		return proto.EncodeArray(nil)
	}
	members, err := v.SetMembers()
	if err != nil {
		return replyFromObjectErr(err)
	}
	return proto.EncodeArray(members)
}

func procSIsMember(ctx *Context, args []string) []byte {
	v, ok := ctx.KS.LookupRead(ctx.DB, args[1])
	if !ok {
		return proto.EncodeInteger(0)
	}
	isMember, err := v.SetIsMember([]byte(args[2]))
	if err != nil {
		return replyFromObjectErr(err)
	}
	if isMember {
		return proto.EncodeInteger(1)
	}
	return proto.EncodeInteger(0)
}

func procSCard(ctx *Context, args []string) []byte {
	v, ok := ctx.KS.LookupRead(ctx.DB, args[1])
	if !ok {
		return proto.EncodeInteger(0)
	}
	n, err := v.SetCard()
	if err != nil {
		return replyFromObjectErr(err)
	}
	return proto.EncodeInteger(int64(n))
}
