package token

import (
	"sync"
)

// MutexCallbacks is the caller-supplied mutex implementation §5 allows a
// caller to plug in at Initialize, mirroring Cryptoki's CK_C_INITIALIZE_ARGS
// create/destroy/lock/unlock quartet.
type MutexCallbacks struct {
	Create  func() (any, error)
	Destroy func(any) error
	Lock    func(any) error
	Unlock  func(any) error
}

// libMutex wraps either the caller's MutexCallbacks or a native
// sync.Mutex, presenting one Lock/Unlock/Destroy surface to LibraryContext
// regardless of which backing was selected at Initialize (§5 "the library
// mutex will be implemented with those [callbacks]; the device mutex is
// always OS-native").
type libMutex struct {
	cb     *MutexCallbacks
	cbData any
	native sync.Mutex
}

func newLibMutex(cb *MutexCallbacks) (*libMutex, error) {
	m := &libMutex{cb: cb}
	if cb != nil && cb.Create != nil {
		data, err := cb.Create()
		if err != nil {
			return nil, NewStatusErrCause("library.newLibMutex", StatusCantLock, err)
		}
		m.cbData = data
	}
	return m, nil
}

func (m *libMutex) Lock() error {
	if m.cb != nil && m.cb.Lock != nil {
		return m.cb.Lock(m.cbData)
	}
	m.native.Lock()
	return nil
}

func (m *libMutex) Unlock() error {
	if m.cb != nil && m.cb.Unlock != nil {
		return m.cb.Unlock(m.cbData)
	}
	m.native.Unlock()
	return nil
}

func (m *libMutex) Destroy() error {
	if m.cb != nil && m.cb.Destroy != nil {
		return m.cb.Destroy(m.cbData)
	}
	return nil
}

// InitArgs mirrors Cryptoki's CK_C_INITIALIZE_ARGS (§5): optional mutex
// callbacks, whether OS-native locking is acceptable, whether the caller
// will ever call this library from more than one thread, and the
// filesystem path used to locate per-slot configuration files when
// dynamic configuration is enabled (§6).
type InitArgs struct {
	Mutex          *MutexCallbacks
	OSLockingOK    bool
	MultiThreaded  bool
	ConfigPath     string
	SlotPoolSize   int
	ObjectCacheCap int
}

// LibraryContext is the process-wide singleton root of §3: slot/session
// tables, the two-mutex locking discipline, and the shared resource
// arbiter. Grounded on the teacher's absence of any such singleton (every
// nfctools binary is single-shot and single-slot); this is new machinery
// in the teacher's plain-struct, explicit-lifecycle style, built to match
// §3/§5's Initialize/Finalize contract rather than borrowed from a
// specific teacher file.
type LibraryContext struct {
	libMu    *libMutex
	devMu    *libMutex // present when InitArgs.MultiThreaded or no Mutex callbacks are given
	arbiter  *Arbiter
	slots    *SlotMgr
	sessions *SessionMgr
	objects  *ObjectStore

	configPath string
	initialized bool

	// devHeld tracks whether this goroutine currently holds devMu, so
	// Nesting-rule violations (device lock without library lock) can be
	// rejected per §5 rather than silently deadlocking. This is a
	// best-effort, non-reentrant guard; it does not replace the mutex.
	devHeldMu sync.Mutex
	devHeld   bool
}

var (
	processLib   *LibraryContext
	processLibMu sync.Mutex
)

// Initialize constructs the singleton LibraryContext per §3's lifecycle:
// "created by the Initialize entrypoint". A second call while one is
// already live fails StatusCryptokiAlreadyInitialized.
func Initialize(args InitArgs) (*LibraryContext, error) {
	processLibMu.Lock()
	defer processLibMu.Unlock()
	if processLib != nil {
		return nil, NewStatusErr("Initialize", StatusCryptokiAlreadyInitialized)
	}

	libMu, err := newLibMutex(args.Mutex)
	if err != nil {
		return nil, err
	}

	var devMu *libMutex
	if args.MultiThreaded || args.Mutex == nil {
		// §5: "If the caller supplies no callbacks and requests no
		// threading, both are still allocated (for defensive
		// re-entrancy detection)." The device mutex is always
		// OS-native regardless of caller callbacks (§5).
		devMu, err = newLibMutex(nil)
		if err != nil {
			return nil, err
		}
	}

	poolSize := args.SlotPoolSize
	if poolSize <= 0 {
		poolSize = DefaultSlotPoolSize
	}
	arbiter := NewArbiter(poolSize)

	lc := &LibraryContext{
		libMu:       libMu,
		devMu:       devMu,
		arbiter:     arbiter,
		slots:       NewSlotMgr(poolSize, nil),
		sessions:    NewSessionMgr(0, arbiter),
		objects:     NewObjectStore(args.ObjectCacheCap),
		configPath:  args.ConfigPath,
		initialized: true,
	}
	processLib = lc
	return lc, nil
}

// LockLibrary acquires the library mutex. Per §5's nesting rule this must
// happen before LockDevice.
func (lc *LibraryContext) LockLibrary() error { return lc.libMu.Lock() }

// UnlockLibrary releases the library mutex.
func (lc *LibraryContext) UnlockLibrary() error { return lc.libMu.Unlock() }

// LockDevice acquires the device mutex for the shortest possible critical
// section around one transport round-trip (§4.6). Calling it while the
// library mutex is not held is a programming error per §5 and returns
// StatusGeneralError rather than deadlocking or racing.
func (lc *LibraryContext) LockDevice() error {
	if lc.devMu == nil {
		return nil
	}
	lc.devHeldMu.Lock()
	alreadyHeld := lc.devHeld
	lc.devHeldMu.Unlock()
	if alreadyHeld {
		return NewStatusErr("library.LockDevice", StatusGeneralError)
	}
	if err := lc.devMu.Lock(); err != nil {
		return err
	}
	lc.devHeldMu.Lock()
	lc.devHeld = true
	lc.devHeldMu.Unlock()
	return nil
}

// UnlockDevice releases the device mutex, reversing LockDevice.
func (lc *LibraryContext) UnlockDevice() error {
	if lc.devMu == nil {
		return nil
	}
	lc.devHeldMu.Lock()
	lc.devHeld = false
	lc.devHeldMu.Unlock()
	return lc.devMu.Unlock()
}

// Slots returns the library's SlotMgr.
func (lc *LibraryContext) Slots() *SlotMgr { return lc.slots }

// Sessions returns the library's SessionMgr.
func (lc *LibraryContext) Sessions() *SessionMgr { return lc.sessions }

// Objects returns the library's ObjectStore.
func (lc *LibraryContext) Objects() *ObjectStore { return lc.objects }

// Arbiter returns the library's shared resource arbiter.
func (lc *LibraryContext) Arbiter() *Arbiter { return lc.arbiter }

// Finalize tears down every session for every slot, clears the object
// cache, releases device handles, and destroys both mutexes (§3). Per §7
// "finalize mid-error, finalize still proceeds through its full teardown
// sequence; individual teardown failures are accumulated but do not stop
// the sequence" — Finalize returns the first error encountered but always
// completes every step.
func (lc *LibraryContext) Finalize() error {
	processLibMu.Lock()
	defer processLibMu.Unlock()
	if lc == nil || !lc.initialized {
		return NewStatusErr("Finalize", StatusCryptokiNotInitialized)
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, id := range lc.slots.List(false) {
		lc.sessions.CloseAll(id)
		s, err := lc.slots.Slot(id)
		if err != nil {
			record(err)
			continue
		}
		if s.Device != nil {
			if closer, ok := s.Device.(interface{ Close() error }); ok {
				record(closer.Close())
			}
			s.Device = nil
		}
		s.State = SlotUninitialized
	}

	lc.objects.Clear()

	record(lc.arbiter.Close())
	record(lc.libMu.Destroy())
	if lc.devMu != nil {
		record(lc.devMu.Destroy())
	}

	lc.initialized = false
	processLib = nil
	return firstErr
}
