package aoflog

import "strconv"

// EncodeCommand renders args as a multi-bulk RESP record, the same wire
// format the request protocol parses, so the log is replayable by
// feeding it straight through the command dispatcher.
func EncodeCommand(args []string) []byte {
	size := 1 + len(strconv.Itoa(len(args))) + 2
	for _, a := range args {
		size += 1 + len(strconv.Itoa(len(a))) + 2 + len(a) + 2
	}
	buf := make([]byte, 0, size)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')
	for _, a := range args {
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(a)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, a...)
		buf = append(buf, '\r', '\n')
	}
	return buf
}
