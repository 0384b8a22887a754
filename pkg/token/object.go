package token

// ObjectClass identifies the Cryptoki object class (§3 ObjectDescriptor).
type ObjectClass int

const (
	ClassPrivateKey ObjectClass = iota
	ClassPublicKey
	ClassSecretKey
	ClassCertificate
	ClassHWFeature
)

// ObjectType identifies the key/data algorithm family of an object.
type ObjectType int

const (
	TypeEC ObjectType = iota
	TypeRSA
	TypeAES
	TypeGenericSecret
	TypeX509
)

// ObjectFlags is a bitmask of the flags an ObjectDescriptor can carry.
type ObjectFlags uint32

const (
	FlagDestroyable ObjectFlags = 1 << iota
	FlagModifiable
	FlagDynamic
	FlagSensitive
	FlagHandleFamily
	FlagTrustType
	FlagCertCache
	FlagKeyCache
)

// LocationSentinelHostOnly marks a descriptor whose data lives only in host
// memory (e.g. an embedded root certificate) rather than on the device.
const LocationSentinelHostOnly = 0xFFFF

// HandleInfo is the 14-byte permission block handle-family devices attach
// to each object (§3). PubKey is the device handle of the paired public-key
// object a private key's HandleInfo references, the handle-family path
// §4.5's Verify mechanisms use to recover a signer's public key without a
// legacy GetPubKey command.
type HandleInfo struct {
	Permission uint8
	CKABits    uint16
	Property   uint16
	WriteKey   uint16
	ReadKey    uint16
	UseKey     uint16
	DeleteKey  uint16
	Reserved   uint8
	PubKey     uint16
}

// ObjectDescriptor is the persistent shape of one cached object (§3).
type ObjectDescriptor struct {
	Class ObjectClass
	Type  ObjectType
	Label string // up to 30 bytes UTF-8; NUL-terminated on the wire
	ID    string // CKA_ID, matched by Find/FindAll when present in the template

	// Location is a 0..15 grid index for legacy devices, a 16-bit
	// device-allocated handle for handle-family devices, or
	// LocationSentinelHostOnly.
	Location uint16

	Flags ObjectFlags
	Size  int

	AttrTable AttributeTable

	// ConfigZone is set only for legacy devices; it points at the owning
	// slot's cached 128-byte configuration zone.
	ConfigZone []byte

	// Handle is set only for handle-family devices.
	Handle *HandleInfo

	// Data is optional cached object-specific payload (e.g. a compressed
	// certificate record or a public key blob).
	Data []byte
}

// ObjectCacheEntry pairs an allocated handle with its descriptor and owning
// slot, the unit ObjectStore actually stores (§3).
type ObjectCacheEntry struct {
	Handle uint32
	Slot   int
	Desc   *ObjectDescriptor
}

// DefaultObjectCacheCapacity is the default bound on ObjectStore's cache
// (§3: "default 64 entries, set at build").
const DefaultObjectCacheCapacity = 64

// ObjectStore is the bounded cache of object descriptors (§4.3). Handles
// are allocated monotonically from a process-local counter starting at 1;
// once the counter is exhausted it does not wrap and Alloc fails, so a
// handle is never reused within a process lifetime.
//
// Grounded on pkg/ntag424's small, struct-plus-slice state containers
// (e.g. keys.go's key table) generalized into a capacity-bounded cache with
// explicit alloc/free rather than a fixed array, since Go slices already
// give us bounds-checked growth up to the configured cap.
type ObjectStore struct {
	entries  []*ObjectCacheEntry
	capacity int
	nextHandle uint32
}

// NewObjectStore constructs an ObjectStore bounded at capacity entries.
func NewObjectStore(capacity int) *ObjectStore {
	if capacity <= 0 {
		capacity = DefaultObjectCacheCapacity
	}
	return &ObjectStore{capacity: capacity, nextHandle: 1}
}

// Alloc inserts desc as owned by slot and returns its newly allocated
// handle. Fails with StatusHostMemory if the cache is at capacity or the
// handle counter is exhausted.
func (s *ObjectStore) Alloc(slot int, desc *ObjectDescriptor) (uint32, error) {
	if len(s.entries) >= s.capacity {
		return 0, NewStatusErr("object.Alloc", StatusHostMemory)
	}
	handle := s.allocHandle()
	if handle == 0 {
		return 0, NewStatusErr("object.Alloc", StatusHostMemory)
	}
	s.entries = append(s.entries, &ObjectCacheEntry{Handle: handle, Slot: slot, Desc: desc})
	return handle, nil
}

func (s *ObjectStore) allocHandle() uint32 {
	h := s.nextHandle
	if h != 0 {
		s.nextHandle++ // wraps to 0 after ^uint32(0); 0 then marks the counter exhausted
	}
	return h
}

// Free wipes any sensitive cached data on desc via a volatile-store
// pattern, removes the entry from the cache, and detaches it from the
// cert/key caches the CertCache/KeyCache flags designate.
func (s *ObjectStore) Free(handle uint32) error {
	idx, entry, err := s.indexOf(handle)
	if err != nil {
		return err
	}
	if entry.Desc != nil {
		if entry.Desc.Flags&FlagSensitive != 0 {
			wipe(entry.Desc.Data)
		}
		entry.Desc.Data = nil
		entry.Desc.Flags &^= FlagCertCache | FlagKeyCache
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	return nil
}

// Check resolves handle to its descriptor, or StatusObjectHandleInvalid.
func (s *ObjectStore) Check(handle uint32) (*ObjectDescriptor, error) {
	_, entry, err := s.indexOf(handle)
	if err != nil {
		return nil, err
	}
	return entry.Desc, nil
}

// GetHandle returns the handle an already-cached descriptor was allocated
// under, or StatusObjectHandleInvalid if desc is not present.
func (s *ObjectStore) GetHandle(desc *ObjectDescriptor) (uint32, error) {
	for _, e := range s.entries {
		if e.Desc == desc {
			return e.Handle, nil
		}
	}
	return 0, NewStatusErr("object.GetHandle", StatusObjectHandleInvalid)
}

// GetOwner returns the slot id that owns handle.
func (s *ObjectStore) GetOwner(handle uint32) (int, error) {
	_, entry, err := s.indexOf(handle)
	if err != nil {
		return 0, err
	}
	return entry.Slot, nil
}

// FindTemplate is the attribute template Find matches against: class
// defaults to ClassPrivateKey when unspecified, label matching is
// byte-exact length-prefixed equality, and ID matching narrows on
// CKA_ID when present, per the original's label/class/id triple-match
// (SUPPLEMENTED FEATURES, original_source/lib/pkcs11/pkcs11_find.c),
// §4.3.
type FindTemplate struct {
	HasClass bool
	Class    ObjectClass
	HasLabel bool
	Label    string
	HasID    bool
	ID       string
}

func (tmpl FindTemplate) matches(d *ObjectDescriptor) bool {
	if tmpl.HasClass && d.Class != tmpl.Class {
		return false
	}
	if tmpl.HasLabel && d.Label != tmpl.Label {
		return false
	}
	if tmpl.HasID && d.ID != tmpl.ID {
		return false
	}
	return true
}

func (tmpl FindTemplate) narrowed() bool {
	return tmpl.HasClass || tmpl.HasLabel || tmpl.HasID
}

// Find linearly scans slot's objects for the first entry matching tmpl
// (class defaulting to ClassPrivateKey when unspecified). An empty
// template matches the first private-key object in the slot.
func (s *ObjectStore) Find(slot int, tmpl FindTemplate) (*ObjectDescriptor, uint32, error) {
	if !tmpl.HasClass {
		tmpl.HasClass = true
		tmpl.Class = ClassPrivateKey
	}
	for _, e := range s.entries {
		if e.Slot != slot || e.Desc == nil {
			continue
		}
		if tmpl.narrowed() {
			if tmpl.matches(e.Desc) {
				return e.Desc, e.Handle, nil
			}
			continue
		}
		if e.Desc.Class == ClassHWFeature {
			continue
		}
		return e.Desc, e.Handle, nil
	}
	return nil, 0, NewStatusErr("object.Find", StatusObjectHandleInvalid)
}

// FindAll returns every object in slot matching tmpl, for FindObjectsInit's
// multi-result cursor (§4.6).
func (s *ObjectStore) FindAll(slot int, tmpl FindTemplate) []*ObjectCacheEntry {
	var out []*ObjectCacheEntry
	for _, e := range s.entries {
		if e.Slot != slot || e.Desc == nil {
			continue
		}
		if !tmpl.narrowed() && e.Desc.Class == ClassHWFeature {
			continue
		}
		if tmpl.narrowed() && !tmpl.matches(e.Desc) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *ObjectStore) indexOf(handle uint32) (int, *ObjectCacheEntry, error) {
	for i, e := range s.entries {
		if e.Handle == handle {
			return i, e, nil
		}
	}
	return 0, nil, NewStatusErr("object.indexOf", StatusObjectHandleInvalid)
}

// Len reports the number of cached objects, for diagnostics and tests.
func (s *ObjectStore) Len() int { return len(s.entries) }

// Clear wipes every cached descriptor's sensitive data and empties the
// store, for Finalize's "clears the object cache" step (§3).
func (s *ObjectStore) Clear() {
	for _, e := range s.entries {
		if e.Desc != nil && e.Desc.Flags&FlagSensitive != 0 {
			wipe(e.Desc.Data)
		}
	}
	s.entries = nil
}
