// Package rdbcodec implements the snapshot codec (RDB): a self-framing
// binary dump of every logical database, with a CRC64 trailer, used for
// SAVE/BGSAVE and for loading state at startup.
package rdbcodec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc64"
	"io"
	"os"
	"sync/atomic"
	"time"

	"kvdb/internal/object"
)

const (
	magicString = "REDIS"
	version     = 9

	opEOF          = 255
	opSelectDB     = 254
	opExpireTimeS  = 253
	opExpireTimeMS = 252
	opResizeDB     = 251
	opAux          = 250

	typeString      = 0
	typeList        = 1
	typeSet         = 2
	typeZSet        = 3
	typeHash        = 4
	typeListZiplist = 10
	typeSetIntset   = 11
	typeZSetZiplist = 12
	typeHashZiplist = 13
)

// Database is one logical database's live keyspace contents, the shape
// a copy-on-write snapshot must be rendered into before Save runs.
type Database struct {
	Index   int
	Keys    map[string]*object.Object
	Expires map[string]int64 // key -> absolute millisecond deadline
}

var crcTable = crc64.MakeTable(crc64.ECMA)

// Writer saves Database snapshots to an RDB file at path.
type Writer struct {
	path string
}

// NewWriter creates a Writer targeting path.
func NewWriter(path string) *Writer { return &Writer{path: path} }

// Save writes dbs to a temp file and atomically renames it into place,
// so a reader never observes a partially written snapshot.
func (w *Writer) Save(dbs []Database) error {
	tmp := w.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("rdbcodec: create temp file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	hasher := crc64.New(crcTable)
	mw := io.MultiWriter(bw, hasher)

	if err := writeHeader(mw); err != nil {
		os.Remove(tmp)
		return err
	}
	for _, db := range dbs {
		if len(db.Keys) == 0 {
			continue
		}
		mw.Write([]byte{opSelectDB})
		writeLength(mw, uint32(db.Index))
		mw.Write([]byte{opResizeDB})
		writeLength(mw, uint32(len(db.Keys)))
		writeLength(mw, uint32(len(db.Expires)))
		for key, val := range db.Keys {
			if deadline, ok := db.Expires[key]; ok {
				mw.Write([]byte{opExpireTimeMS})
				var buf [8]byte
				binary.LittleEndian.PutUint64(buf[:], uint64(deadline))
				mw.Write(buf[:])
			}
			if err := writeRecord(mw, key, val); err != nil {
				os.Remove(tmp)
				return err
			}
		}
	}
	mw.Write([]byte{opEOF})

	checksum := hasher.Sum64()
	var sumBuf [8]byte
	binary.LittleEndian.PutUint64(sumBuf[:], checksum)
	bw.Write(sumBuf[:])

	if err := bw.Flush(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rdbcodec: flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rdbcodec: fsync: %w", err)
	}
	f.Close()
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("rdbcodec: rename into place: %w", err)
	}
	return nil
}

// BackgroundSave runs Save on dbs in a goroutine, guarded by flag so at
// most one RDB save or AOF rewrite runs at a time across the process
// (flag is owned by the caller, e.g. the server, rather than a package-
// level mutable). It reports started=false without doing any work if a
// background job is already in flight.
func (w *Writer) BackgroundSave(flag *int32, dbs []Database, done func(error)) (started bool) {
	if !atomic.CompareAndSwapInt32(flag, 0, 1) {
		return false
	}
	go func() {
		defer atomic.StoreInt32(flag, 0)
		err := w.Save(dbs)
		if done != nil {
			done(err)
		}
	}()
	return true
}

func writeHeader(w io.Writer) error {
	if _, err := w.Write([]byte(magicString)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%04d", version); err != nil {
		return err
	}
	w.Write([]byte{opAux})
	writeString(w, []byte("redis-ver"))
	writeString(w, []byte("kvdb-1.0"))
	w.Write([]byte{opAux})
	writeString(w, []byte("ctime"))
	writeString(w, []byte(fmt.Sprintf("%d", time.Now().Unix())))
	return nil
}

func writeRecord(w io.Writer, key string, val *object.Object) error {
	switch val.Type {
	case object.TypeString:
		w.Write([]byte{typeString})
		writeString(w, []byte(key))
		b, err := val.StringBytes()
		if err != nil {
			return err
		}
		writeString(w, b)

	case object.TypeList:
		typeByte := byte(typeList)
		if val.Encoding == object.EncZiplist {
			typeByte = typeListZiplist
		}
		w.Write([]byte{typeByte})
		writeString(w, []byte(key))
		items, err := val.ListRange(0, -1)
		if err != nil {
			return err
		}
		writeLength(w, uint32(len(items)))
		for _, item := range items {
			writeString(w, item)
		}

	case object.TypeSet:
		typeByte := byte(typeSet)
		if val.Encoding == object.EncIntset {
			typeByte = typeSetIntset
		}
		w.Write([]byte{typeByte})
		writeString(w, []byte(key))
		members, err := val.SetMembers()
		if err != nil {
			return err
		}
		writeLength(w, uint32(len(members)))
		for _, m := range members {
			writeString(w, m)
		}

	case object.TypeHash:
		typeByte := byte(typeHash)
		if val.Encoding == object.EncZiplist {
			typeByte = typeHashZiplist
		}
		w.Write([]byte{typeByte})
		writeString(w, []byte(key))
		pairs, err := val.HashGetAll()
		if err != nil {
			return err
		}
		writeLength(w, uint32(len(pairs)/2))
		for _, p := range pairs {
			writeString(w, p)
		}

	case object.TypeZSet:
		typeByte := byte(typeZSet)
		if val.Encoding == object.EncZiplist {
			typeByte = typeZSetZiplist
		}
		w.Write([]byte{typeByte})
		writeString(w, []byte(key))
		card, err := val.ZSetCard()
		if err != nil {
			return err
		}
		members, err := val.ZSetRange(0, -1)
		if err != nil {
			return err
		}
		writeLength(w, uint32(card))
		for _, m := range members {
			writeString(w, []byte(m.Name))
			writeScore(w, m.Score)
		}
	}
	return nil
}
