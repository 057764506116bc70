package model

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// StackHash identifies a stack trace by content. Stores use it to keep one
// copy of each distinct stack per profile.
func StackHash(frames []StackFrame) uint64 {
	d := xxhash.New()
	var num [8]byte
	for _, f := range frames {
		_, _ = d.WriteString(f.ClassName)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(f.MethodName)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(f.Type)
		binary.LittleEndian.PutUint32(num[:4], uint32(f.Line))
		binary.LittleEndian.PutUint32(num[4:], uint32(f.BCI))
		_, _ = d.Write(num[:])
	}
	return d.Sum64()
}
