package command

import (
	"strings"

	"kvdb/internal/object"
	"kvdb/internal/proto"
)

func (r *Registry) registerZSet() {
	r.add(Spec{Name: "ZADD", Arity: -4, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procZAdd})
	r.add(Spec{Name: "ZRANGE", Arity: -4, FirstKey: 1, LastKey: 1, Step: 1, Proc: procZRange})
	r.add(Spec{Name: "ZSCORE", Arity: 3, FirstKey: 1, LastKey: 1, Step: 1, Proc: procZScore})
	r.add(Spec{Name: "ZRANK", Arity: 3, FirstKey: 1, LastKey: 1, Step: 1, Proc: procZRank})
	r.add(Spec{Name: "ZCARD", Arity: 2, FirstKey: 1, LastKey: 1, Step: 1, Proc: procZCard})
	r.add(Spec{Name: "ZINCRBY", Arity: 4, FirstKey: 1, LastKey: 1, Step: 1, IsWrite: true, Proc: procZIncrBy})
}

func procZAdd(ctx *Context, args []string) []byte {
	scoresAndMembers := args[2:]
	if len(scoresAndMembers)%2 != 0 {
		return proto.EncodeError("ERR syntax error")
	}
	v, ok := ctx.KS.LookupWrite(ctx.DB, args[1])
	if !ok {
		v = object.NewZSet()
		if err := ctx.KS.Insert(ctx.DB, args[1], v); err != nil {
			return proto.EncodeError("ERR " + err.Error())
		}
	}
	var n int64
	for i := 0; i < len(scoresAndMembers); i += 2 {
		score, ok := parseFloat(scoresAndMembers[i])
		if !ok {
			return proto.EncodeError("ERR value is not a valid float")
		}
		added, err := v.ZSetAdd([]byte(scoresAndMembers[i+1]), score, ctx.Limits)
		if err != nil {
			return replyFromObjectErr(err)
		}
		if added {
			n++
		}
	}
	return proto.EncodeInteger(n)
}

func procZRange(ctx *Context, args []string) []byte {
	withScores := false
	switch len(args) {
	case 4:
	case 5:
		if !strings.EqualFold(args[4], "WITHSCORES") {
			return proto.EncodeError("ERR syntax error")
		}
		withScores = true
	default:
		return proto.EncodeError("ERR wrong number of arguments for 'zrange' command")
	}
	start, ok1 := parseInt(args[2])
	stop, ok2 := parseInt(args[3])
	if !ok1 || !ok2 {
		return proto.EncodeError("ERR value is not an integer or out of range")
	}
	v, ok := ctx.KS.LookupRead(ctx.DB, args[1])
	if !ok {
		return proto.EncodeArray(nil)
	}
	members, err := v.ZSetRange(start, stop)
	if err != nil {
		return replyFromObjectErr(err)
	}
	if !withScores {
		items := make([][]byte, len(members))
		for i, m := range members {
			items[i] = []byte(m.Name)
		}
		return proto.EncodeArray(items)
	}
	out := proto.EncodeArrayHeader(len(members) * 2)
	for _, m := range members {
		out = append(out, proto.EncodeBulkString([]byte(m.Name))...)
		out = append(out, proto.EncodeDouble(m.Score)...)
	}
	return out
}

func procZScore(ctx *Context, args []string) []byte {
	v, ok := ctx.KS.LookupRead(ctx.DB, args[1])
	if !ok {
		return proto.EncodeNullBulkString()
	}
	score, ok, err := v.ZSetScore([]byte(args[2]))
	if err != nil {
		return replyFromObjectErr(err)
	}
	if !ok {
		return proto.EncodeNullBulkString()
	}
	return proto.EncodeDouble(score)
}

func procZRank(ctx *Context, args []string) []byte {
	v, ok := ctx.KS.LookupRead(ctx.DB, args[1])
	if !ok {
		return proto.EncodeNullBulkString()
	}
	rank, ok, err := v.ZSetRank([]byte(args[2]))
	if err != nil {
		return replyFromObjectErr(err)
	}
	if !ok {
		return proto.EncodeNullBulkString()
	}
	return proto.EncodeInteger(int64(rank))
}

func procZCard(ctx *Context, args []string) []byte {
	v, ok := ctx.KS.LookupRead(ctx.DB, args[1])
	if !ok {
		return proto.EncodeInteger(0)
	}
	n, err := v.ZSetCard()
	if err != nil {
		return replyFromObjectErr(err)
	}
	return proto.EncodeInteger(int64(n))
}

func procZIncrBy(ctx *Context, args []string) []byte {
	delta, ok := parseFloat(args[2])
	if !ok {
		return proto.EncodeError("ERR value is not a valid float")
	}
	v, ok := ctx.KS.LookupWrite(ctx.DB, args[1])
	if !ok {
		v = object.NewZSet()
		if err := ctx.KS.Insert(ctx.DB, args[1], v); err != nil {
			return proto.EncodeError("ERR " + err.Error())
		}
	}
	score, err := v.ZSetIncrBy([]byte(args[3]), delta, ctx.Limits)
	if err != nil {
		return replyFromObjectErr(err)
	}
	return proto.EncodeDouble(score)
}
