package rdbcodec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
	"math"
	"os"

	"kvdb/internal/object"
)

// ErrCorrupt is returned when the file fails header, checksum, or
// opcode/type validation during Load.
var ErrCorrupt = errors.New("rdbcodec: corrupt or unrecognized data")

func nan() float64     { return math.NaN() }
func posInf() float64  { return math.Inf(1) }
func negInf() float64  { return math.Inf(-1) }

// Reader loads Database snapshots from an RDB file at path.
type Reader struct {
	path string
}

// NewReader creates a Reader targeting path.
func NewReader(path string) *Reader { return &Reader{path: path} }

// Load reads and parses the RDB file at r's path: verifies the magic and
// version header, verifies the trailing CRC64 checksum (skipped if the
// stored checksum is zero, per §6), and returns one Database per
// non-empty SELECT_DB section. Expired keys (deadline already past
// nowMillis) are skipped, matching the "Save procedure skips expired
// keys" contract in reverse for a snapshot taken before a long load.
func (r *Reader) Load(nowMillis int64) ([]Database, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil, err
	}
	if len(raw) < len(magicString)+4+8 {
		return nil, fmt.Errorf("%w: file too short", ErrCorrupt)
	}

	body := raw[:len(raw)-8]
	storedSum := binary.LittleEndian.Uint64(raw[len(raw)-8:])
	if storedSum != 0 {
		if actual := crc64.Checksum(body, crcTable); actual != storedSum {
			return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
		}
	}

	br := bufio.NewReader(bytes.NewReader(body))
	if err := readHeader(br); err != nil {
		return nil, err
	}

	var out []Database
	var cur *Database
	flush := func() {
		if cur != nil && len(cur.Keys) > 0 {
			out = append(out, *cur)
		}
	}
	for {
		var opb [1]byte
		if _, err := io.ReadFull(br, opb[:]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		switch opb[0] {
		case opEOF:
			flush()
			return out, nil

		case opSelectDB:
			idx, special, _, err := readLength(br)
			if err != nil || special {
				return nil, fmt.Errorf("%w: bad SELECTDB", ErrCorrupt)
			}
			flush()
			cur = &Database{Index: int(idx), Keys: map[string]*object.Object{}, Expires: map[string]int64{}}

		case opResizeDB:
			if _, _, _, err := readLength(br); err != nil {
				return nil, err
			}
			if _, _, _, err := readLength(br); err != nil {
				return nil, err
			}

		case opAux:
			if _, err := readString(br); err != nil {
				return nil, err
			}
			if _, err := readString(br); err != nil {
				return nil, err
			}

		case opExpireTimeMS:
			var buf [8]byte
			if _, err := io.ReadFull(br, buf[:]); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			deadline := int64(binary.LittleEndian.Uint64(buf[:]))
			if err := readKeyValue(br, cur, deadline, nowMillis); err != nil {
				return nil, err
			}

		case opExpireTimeS:
			var buf [4]byte
			if _, err := io.ReadFull(br, buf[:]); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			deadline := int64(binary.LittleEndian.Uint32(buf[:])) * 1000
			if err := readKeyValue(br, cur, deadline, nowMillis); err != nil {
				return nil, err
			}

		default:
			if err := readKeyValueTyped(br, cur, opb[0], 0, false, nowMillis); err != nil {
				return nil, err
			}
		}
	}
}

func readHeader(r io.Reader) error {
	magic := make([]byte, len(magicString))
	if _, err := io.ReadFull(r, magic); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if string(magic) != magicString {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	ver := make([]byte, 4)
	if _, err := io.ReadFull(r, ver); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// readKeyValue reads the object-type byte followed by a key/value
// record and, if the key hasn't already expired, installs it with the
// given deadline.
func readKeyValue(r io.Reader, cur *Database, deadline, nowMillis int64) error {
	var typeb [1]byte
	if _, err := io.ReadFull(r, typeb[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return readKeyValueTyped(r, cur, typeb[0], deadline, true, nowMillis)
}

func readKeyValueTyped(r io.Reader, cur *Database, typeByte byte, deadline int64, hasExpiry bool, nowMillis int64) error {
	if cur == nil {
		return fmt.Errorf("%w: record before SELECTDB", ErrCorrupt)
	}
	keyBytes, err := readString(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	val, err := readValue(r, typeByte)
	if err != nil {
		return err
	}
	if hasExpiry && deadline <= nowMillis {
		return nil
	}
	key := string(keyBytes)
	cur.Keys[key] = val
	if hasExpiry {
		cur.Expires[key] = deadline
	}
	return nil
}

func readValue(r io.Reader, typeByte byte) (*object.Object, error) {
	limits := object.DefaultLimits()
	switch typeByte {
	case typeString:
		b, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return object.NewString(b), nil

	case typeList, typeListZiplist:
		n, _, _, err := readLength(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		obj := object.NewList()
		for i := uint32(0); i < n; i++ {
			b, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			if err := obj.ListPush(b, false, limits); err != nil {
				return nil, err
			}
		}
		return obj, nil

	case typeSet, typeSetIntset:
		n, _, _, err := readLength(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		obj := object.NewSet()
		for i := uint32(0); i < n; i++ {
			b, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			if _, err := obj.SetAdd(b, limits); err != nil {
				return nil, err
			}
		}
		return obj, nil

	case typeHash, typeHashZiplist:
		n, _, _, err := readLength(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		obj := object.NewHash()
		for i := uint32(0); i < n; i++ {
			field, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			value, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			if _, err := obj.HashSet(field, value, limits); err != nil {
				return nil, err
			}
		}
		return obj, nil

	case typeZSet, typeZSetZiplist:
		n, _, _, err := readLength(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		obj := object.NewZSet()
		for i := uint32(0); i < n; i++ {
			member, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			score, err := readScore(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			if _, err := obj.ZSetAdd(member, score, limits); err != nil {
				return nil, err
			}
		}
		return obj, nil

	default:
		return nil, fmt.Errorf("%w: unknown object type %d", ErrCorrupt, typeByte)
	}
}
