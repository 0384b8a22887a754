//go:build unix

package token

import (
	"encoding/binary"
	"log/slog"

	"golang.org/x/sys/unix"
)

// entrySize is the wire width of one marshaled arbiterEntry in the shared
// segment: an 8-byte session handle plus a 4-byte pid.
const entrySize = 12

// sysvShm backs Arbiter with a SysV shared-memory segment, so that
// multiple processes opening the same token coordinate reservations
// (§5: "the arbiter's backing storage lives in a shared-memory segment").
// Grounded on the teacher's platform-adapter boundary pattern (pcsc.go
// isolates the OS-specific PC/SC calls behind the Device interface); here
// the same isolation separates unix.SysvShmGet/SysvShmAttach/SysvShmDetach
// from the platform-independent Arbiter logic.
type sysvShm struct {
	id  int
	mem []byte
}

func newShmBacking(numEntries int) ShmBacking {
	size := numEntries * entrySize
	if size == 0 {
		size = entrySize
	}
	key := shmKey()
	id, err := unix.SysvShmGet(key, size, unix.IPC_CREAT|0o600)
	if err != nil {
		slog.Warn("arbiter: shmget failed, falling back to process-local table", "error", err)
		return &localShm{}
	}
	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		slog.Warn("arbiter: shmat failed, falling back to process-local table", "error", err)
		return &localShm{}
	}
	return &sysvShm{id: id, mem: mem}
}

// shmKey derives a stable SysV IPC key for the arbiter segment. A fixed
// key (rather than ftok on a path) matches §5's intent that every process
// opening "the same token" via this library shares one arbiter; a
// per-token key would require plumbing a token identifier the spec
// doesn't define.
func shmKey() int {
	return 0x43545f41 // "CT_A"
}

func (s *sysvShm) Load(entries []arbiterEntry) {
	if s.mem == nil {
		return
	}
	for i := range entries {
		off := i * entrySize
		if off+entrySize > len(s.mem) {
			break
		}
		entries[i].sessionHandle = uintptr(binary.LittleEndian.Uint64(s.mem[off : off+8]))
		entries[i].pid = int(int32(binary.LittleEndian.Uint32(s.mem[off+8 : off+12])))
	}
}

func (s *sysvShm) Save(entries []arbiterEntry) {
	if s.mem == nil {
		return
	}
	for i, e := range entries {
		off := i * entrySize
		if off+entrySize > len(s.mem) {
			break
		}
		binary.LittleEndian.PutUint64(s.mem[off:off+8], uint64(e.sessionHandle))
		binary.LittleEndian.PutUint32(s.mem[off+8:off+12], uint32(int32(e.pid)))
	}
}

func (s *sysvShm) Close() error {
	if s.mem == nil {
		return nil
	}
	err := unix.SysvShmDetach(s.mem)
	s.mem = nil
	return err
}

// localShm is the degraded fallback when shmget/shmat fails (e.g. the
// segment is restricted by sandboxing): the table is heap-local to this
// process, matching arbiter_other.go's non-POSIX behavior.
type localShm struct{}

func (localShm) Load([]arbiterEntry) {}
func (localShm) Save([]arbiterEntry) {}
func (localShm) Close() error        { return nil }
