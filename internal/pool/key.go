package pool

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// KeySpec is the tuple that identifies a family of interchangeable workers.
// Two invocations with the same spec may share pre-started processes; any
// difference makes them strangers.
type KeySpec struct {
	// WorkDir is the client's working directory.
	WorkDir string
	// RuntimeFlags are the interpreter flags the worker was started with.
	RuntimeFlags []string
	// Classpath is the code-resolution path handed to the interpreter.
	Classpath string
	// EntryClass is the entry point the pool is warmed for.
	EntryClass string
}

// Key returns the deterministic pool key for s: a BLAKE3 hash over the
// NUL-joined tuple fields.
func (s KeySpec) Key() string {
	var b strings.Builder
	b.WriteString(s.WorkDir)
	b.WriteByte(0)
	for _, f := range s.RuntimeFlags {
		b.WriteString(f)
		b.WriteByte(0)
	}
	b.WriteByte(0)
	b.WriteString(s.Classpath)
	b.WriteByte(0)
	b.WriteString(s.EntryClass)

	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}
