package token

import (
	"os"
	"sync"
	"syscall"
)

// ResourceKind identifies one of the device-shared resources the §5
// arbiter coordinates. AES_Op covers every encrypt/decrypt mechanism;
// the two Digest/Auth slots exist because some device families expose two
// independent hardware contexts of each kind.
type ResourceKind int

const (
	ResourceNone ResourceKind = iota
	ResourceAESOp
	ResourceDigestOp0
	ResourceDigestOp1
	ResourceAuthOp0
	ResourceAuthOp1
)

// resourceKindCount is the number of distinct kinds the arbiter table
// indexes, excluding the ResourceNone sentinel.
const resourceKindCount = 5

func (k ResourceKind) index() int {
	return int(k) - 1
}

// arbiterEntry is one (slot, resource_kind) cell: the owning session
// handle plus the OS process id that reserved it (§5).
type arbiterEntry struct {
	sessionHandle uintptr
	pid           int
}

// Arbiter is the process-shared resource-reservation table of §5: a
// fixed-size array indexed by (slot, resource_kind). Reserve/Release are
// the only two operations; ownership is verified by session handle and
// process id so that a crashed process's reservations can be reclaimed.
//
// The in-process bookkeeping (this struct's mutex and entries slice) is
// always heap-local; arbiter_unix.go/arbiter_other.go only decide whether
// the *backing storage* behind Reserve/Release is additionally mirrored
// into a cross-process shared-memory segment (ShmBacking, nil when not
// applicable).
type Arbiter struct {
	mu      sync.Mutex
	entries []arbiterEntry
	slots   int

	shm ShmBacking
}

// ShmBacking is implemented by the platform-specific shared-memory layer
// (arbiter_unix.go's sysvShm, arbiter_other.go's no-op) so Arbiter's
// Reserve/Release logic is platform-independent.
type ShmBacking interface {
	// Load copies the shared segment into the in-process entries slice;
	// Save copies the entries slice out to the shared segment. A no-op
	// backing makes both no-ops, degrading gracefully to "arbiter local
	// to this process" per §5.
	Load([]arbiterEntry)
	Save([]arbiterEntry)
	Close() error
}

// NewArbiter constructs an Arbiter sized for slots slots, backed by
// newShmBacking's platform-appropriate implementation.
func NewArbiter(slots int) *Arbiter {
	a := &Arbiter{
		entries: make([]arbiterEntry, slots*resourceKindCount),
		slots:   slots,
	}
	a.shm = newShmBacking(len(a.entries))
	a.shm.Load(a.entries)
	return a
}

func (a *Arbiter) cellIndex(slot int, kind ResourceKind) (int, error) {
	if slot < 0 || slot >= a.slots || kind == ResourceNone {
		return 0, NewStatusErr("arbiter.cell", StatusArgumentsBad)
	}
	return slot*resourceKindCount + kind.index(), nil
}

// processExists reports whether pid still names a live process on this
// host, so a reservation abandoned by a crashed process can be reclaimed
// (§5 "or the recorded process id no longer exists").
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// os.FindProcess always succeeds on POSIX; confirm liveness with a
	// zero-signal probe.
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// Reserve claims (slot, kind) for session, per §5: succeeds if the cell is
// unowned, its owning process no longer exists, or it is already owned by
// this same session; otherwise OPERATION_ACTIVE.
func (a *Arbiter) Reserve(session uintptr, slot int, kind ResourceKind) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, err := a.cellIndex(slot, kind)
	if err != nil {
		return err
	}
	a.shm.Load(a.entries)
	cell := a.entries[idx]
	if cell.sessionHandle == 0 || !processExists(cell.pid) || cell.sessionHandle == session {
		a.entries[idx] = arbiterEntry{sessionHandle: session, pid: os.Getpid()}
		a.shm.Save(a.entries)
		return nil
	}
	return NewStatusErr("arbiter.Reserve", StatusOperationActive)
}

// Release frees (slot, kind) if session and the current process own it;
// otherwise it is a no-op error that callers on a benign double-release
// path may ignore.
func (a *Arbiter) Release(session uintptr, slot int, kind ResourceKind) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, err := a.cellIndex(slot, kind)
	if err != nil {
		return err
	}
	a.shm.Load(a.entries)
	cell := a.entries[idx]
	if cell.sessionHandle != session || cell.pid != os.Getpid() {
		return NewStatusErr("arbiter.Release", StatusGeneralError)
	}
	a.entries[idx] = arbiterEntry{}
	a.shm.Save(a.entries)
	return nil
}

// ReleaseAll drops every reservation session holds across every slot, for
// CloseSession/Finalize teardown (§5 "terminating an in-flight mechanism
// is done by closing the session, which releases every reserved
// resource").
func (a *Arbiter) ReleaseAll(session uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shm.Load(a.entries)
	pid := os.Getpid()
	changed := false
	for i := range a.entries {
		if a.entries[i].sessionHandle == session && a.entries[i].pid == pid {
			a.entries[i] = arbiterEntry{}
			changed = true
		}
	}
	if changed {
		a.shm.Save(a.entries)
	}
}

// Close releases the arbiter's shared-memory segment, if any.
func (a *Arbiter) Close() error {
	if a.shm == nil {
		return nil
	}
	return a.shm.Close()
}
