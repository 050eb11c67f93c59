package repository

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/akave-ai/tracectrl/internal/model"
)

// snippetKey is the content address of a snippet: a BLAKE3 digest over the
// line, the code and the optional file, each length-prefixed so that field
// boundaries cannot collide.
func snippetKey(s model.Snippet) []byte {
	h := blake3.New()
	var n [8]byte

	binary.BigEndian.PutUint32(n[:4], uint32(s.Line))
	h.Write(n[:4])

	writeField := func(v string) {
		binary.BigEndian.PutUint64(n[:], uint64(len(v)))
		h.Write(n[:])
		h.Write([]byte(v))
	}
	writeField(s.Code)
	if s.File != nil {
		h.Write([]byte{1})
		writeField(*s.File)
	} else {
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}
