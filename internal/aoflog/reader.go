package aoflog

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"kvdb/internal/proto"
)

// ApplyFunc applies one already-normalized command to database dbIndex,
// the synthetic-client callback the loader drives: per §4.6 it must not
// produce a reply or block.
type ApplyFunc func(dbIndex int, args []string) error

// Load replays every record in path by feeding it through apply, the
// same multi-bulk parser the live request path uses (so framing bugs
// can't diverge between the two). Every 1000 records it calls pump (if
// non-nil) so the event loop can still service new connections — without
// executing their commands yet — during a long load, per §4.6. A
// missing file is not an error (first startup); any parse or apply
// error is, and the caller must not proceed to serve from a partial
// dataset.
func Load(path string, apply ApplyFunc, pump func()) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("aoflog: open: %w", err)
	}
	defer f.Close()

	dbIndex := 0
	count := 0
	var buf []byte
	chunk := make([]byte, 64*1024)

	for {
		n, rerr := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				cmd, consumed, perr := proto.ParseCommand(buf)
				if perr != nil {
					return fmt.Errorf("%w: %v", ErrFormat, perr)
				}
				if cmd == nil {
					break
				}
				buf = buf[consumed:]

				args := make([]string, len(cmd.Args))
				for i, a := range cmd.Args {
					args[i] = string(a)
				}
				if len(args) == 0 {
					continue
				}
				if strings.EqualFold(args[0], "SELECT") {
					if len(args) != 2 {
						return fmt.Errorf("%w: malformed SELECT", ErrFormat)
					}
					idx, err := strconv.Atoi(args[1])
					if err != nil {
						return fmt.Errorf("%w: bad SELECT index: %v", ErrFormat, err)
					}
					dbIndex = idx
				} else if err := apply(dbIndex, args); err != nil {
					return fmt.Errorf("%w: %v", ErrFormat, err)
				}

				count++
				if pump != nil && count%1000 == 0 {
					pump()
				}
			}
		}
		if rerr == io.EOF {
			if len(buf) > 0 {
				return fmt.Errorf("%w: trailing partial record", ErrFormat)
			}
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("%w: %v", ErrFormat, rerr)
		}
	}
}
