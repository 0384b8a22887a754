package token

import "fmt"

// Segment is one node of a Buffer's segment list. Buf holds the segment's
// fixed physical backing memory; Len is the segment's current logical used
// length and must never exceed cap(Buf). A nil Buf marks a "length-only"
// segment: Len can still be read and written via SetUsed/GetUsed (to record
// a pending size) but no byte of it can be read or written.
//
// Grounded on original_source/lib/cal_buffer.c's cal_buffer linked list,
// expressed with Go's native slice len/cap instead of a destructively
// mutated C size_t so that shrinking the used length never loses the
// segment's original capacity.
type Segment struct {
	Buf []byte
	Len int
	Next *Segment
}

// Buffer is a segment-list byte container. The zero value is not usable;
// construct one with NewBuffer or NewLengthOnlyBuffer.
type Buffer struct {
	root *Segment
}

// NewBuffer wraps a single pre-allocated byte slice as a one-segment Buffer.
// The segment's physical capacity is cap(backing); its initial used length
// is len(backing).
func NewBuffer(backing []byte) *Buffer {
	return &Buffer{root: &Segment{Buf: backing, Len: len(backing)}}
}

// NewMultipartBuffer chains the given segments in order, each wrapping one
// backing slice at its initial used length.
func NewMultipartBuffer(backings ...[]byte) *Buffer {
	if len(backings) == 0 {
		return &Buffer{}
	}
	head := &Segment{Buf: backings[0], Len: len(backings[0])}
	cur := head
	for _, b := range backings[1:] {
		next := &Segment{Buf: b, Len: len(b)}
		cur.Next = next
		cur = next
	}
	return &Buffer{root: head}
}

// NewLengthOnlyBuffer constructs a Buffer whose root segment has no backing
// memory; only SetUsed/GetUsed are meaningful until a real segment replaces
// it (used by producers that must report a size before the caller has
// handed over storage).
func NewLengthOnlyBuffer() *Buffer {
	return &Buffer{root: &Segment{}}
}

func (b *Buffer) locate(offset int) (*Segment, int, error) {
	if b == nil || b.root == nil {
		return nil, 0, NewStatusErr("buffer.locate", StatusArgumentsBad)
	}
	seg := b.root
	for seg != nil && seg.Len <= offset {
		offset -= seg.Len
		seg = seg.Next
	}
	if seg == nil {
		return nil, 0, NewStatusErr("buffer.locate", StatusBufferTooSmall)
	}
	return seg, offset, nil
}

// ReadByte reads the byte at logical offset.
func (b *Buffer) ReadByte(offset int) (byte, error) {
	seg, rel, err := b.locate(offset)
	if err != nil {
		return 0, err
	}
	if seg.Buf == nil {
		return 0, NewStatusErr("buffer.ReadByte", StatusArgumentsBad)
	}
	return seg.Buf[rel], nil
}

// WriteByte writes the byte at logical offset.
func (b *Buffer) WriteByte(offset int, value byte) error {
	seg, rel, err := b.locate(offset)
	if err != nil {
		return err
	}
	if seg.Buf == nil {
		return NewStatusErr("buffer.WriteByte", StatusArgumentsBad)
	}
	seg.Buf[rel] = value
	return nil
}

// ReadBytes reads length bytes starting at offset into dst, transparently
// crossing segment boundaries. length==0 is a no-op that always succeeds.
func (b *Buffer) ReadBytes(offset int, dst []byte, length int) error {
	if length == 0 {
		return nil
	}
	if length > len(dst) {
		return NewStatusErr("buffer.ReadBytes", StatusArgumentsBad)
	}
	seg, rel, err := b.locate(offset)
	if err != nil {
		return err
	}
	di := 0
	for length > 0 {
		if seg == nil {
			return NewStatusErr("buffer.ReadBytes", StatusBufferTooSmall)
		}
		if seg.Buf == nil {
			return NewStatusErr("buffer.ReadBytes", StatusArgumentsBad)
		}
		avail := seg.Len - rel
		n := length
		if n > avail {
			n = avail
		}
		copy(dst[di:di+n], seg.Buf[rel:rel+n])
		di += n
		length -= n
		rel = 0
		seg = seg.Next
	}
	return nil
}

// WriteBytes writes length bytes from src starting at offset, transparently
// crossing segment boundaries. length==0 is a no-op that always succeeds.
func (b *Buffer) WriteBytes(offset int, src []byte, length int) error {
	if length == 0 {
		return nil
	}
	if length > len(src) {
		return NewStatusErr("buffer.WriteBytes", StatusArgumentsBad)
	}
	seg, rel, err := b.locate(offset)
	if err != nil {
		return err
	}
	si := 0
	for length > 0 {
		if seg == nil {
			return NewStatusErr("buffer.WriteBytes", StatusBufferTooSmall)
		}
		if seg.Buf == nil {
			return NewStatusErr("buffer.WriteBytes", StatusArgumentsBad)
		}
		avail := seg.Len - rel
		n := length
		if n > avail {
			n = avail
		}
		copy(seg.Buf[rel:rel+n], src[si:si+n])
		si += n
		length -= n
		rel = 0
		seg = seg.Next
	}
	return nil
}

// ReadNumber interprets size bytes at offset as a host-endian integer and
// writes them into dst (which must be exactly size bytes). When the
// buffer's own byte order (bufBigEndian) differs from host order, the bytes
// are reversed during the copy. Signedness of dst is the caller's concern;
// this only moves bytes.
func (b *Buffer) ReadNumber(offset int, dst []byte, size int, bufBigEndian bool) error {
	if len(dst) != size {
		return NewStatusErr("buffer.ReadNumber", StatusArgumentsBad)
	}
	if bufBigEndian == hostBigEndian {
		return b.ReadBytes(offset, dst, size)
	}
	tmp := make([]byte, size)
	if err := b.ReadBytes(offset, tmp, size); err != nil {
		return err
	}
	reverseInto(dst, tmp)
	return nil
}

// WriteNumber is the inverse of ReadNumber.
func (b *Buffer) WriteNumber(offset int, src []byte, size int, bufBigEndian bool) error {
	if len(src) != size {
		return NewStatusErr("buffer.WriteNumber", StatusArgumentsBad)
	}
	if bufBigEndian == hostBigEndian {
		return b.WriteBytes(offset, src, size)
	}
	tmp := make([]byte, size)
	reverseInto(tmp, src)
	return b.WriteBytes(offset, tmp, size)
}

func reverseInto(dst, src []byte) {
	n := len(src)
	for i := 0; i < n; i++ {
		dst[i] = src[n-1-i]
	}
}

// hostBigEndian is false on every platform this module targets (amd64,
// arm64); kept explicit rather than assumed so ReadNumber/WriteNumber read
// correctly if that ever changes.
const hostBigEndian = false

// Copy copies length bytes from src (starting at srcOffset) to dst (starting
// at dstOffset), resolving both to their owning segments and advancing
// across boundaries independently on each side.
func Copy(dst *Buffer, dstOffset int, src *Buffer, srcOffset int, length int) error {
	if length == 0 {
		return nil
	}
	dSeg, dRel, err := dst.locate(dstOffset)
	if err != nil {
		return NewStatusErrCause("buffer.Copy", StatusBufferTooSmall, err)
	}
	sSeg, sRel, err := src.locate(srcOffset)
	if err != nil {
		return NewStatusErrCause("buffer.Copy", StatusInvalidSizeAlias(), err)
	}
	for length > 0 {
		if dSeg == nil {
			return NewStatusErr("buffer.Copy", StatusBufferTooSmall)
		}
		if sSeg == nil {
			return NewStatusErr("buffer.Copy", StatusBufferTooSmall)
		}
		if dSeg.Buf == nil || sSeg.Buf == nil {
			return NewStatusErr("buffer.Copy", StatusArgumentsBad)
		}
		dAvail := dSeg.Len - dRel
		sAvail := sSeg.Len - sRel
		n := length
		if n > dAvail {
			n = dAvail
		}
		if n > sAvail {
			n = sAvail
		}
		if n <= 0 {
			if dAvail <= 0 {
				return NewStatusErr("buffer.Copy", StatusBufferTooSmall)
			}
			return NewStatusErr("buffer.Copy", StatusBufferTooSmall)
		}
		copy(dSeg.Buf[dRel:dRel+n], sSeg.Buf[sRel:sRel+n])
		length -= n
		dRel += n
		sRel += n
		if dRel == dSeg.Len {
			dSeg = dSeg.Next
			dRel = 0
		}
		if sRel == sSeg.Len {
			sSeg = sSeg.Next
			sRel = 0
		}
	}
	return nil
}

// StatusInvalidSizeAlias is the status Copy reports when srcOffset lies
// past the source's logical end. The status taxonomy in §7/§6 has no
// separate "invalid size" code, so it is StatusBufferTooSmall: a
// source-side failure is not distinguishable from a destination-side one
// by status alone.
func StatusInvalidSizeAlias() Status { return StatusBufferTooSmall }

// SetUsed reduces each segment's Len left-to-right until the cumulative
// length equals used. Fails with StatusBufferTooSmall if the underlying
// physical capacity (cap(seg.Buf)) is smaller than required. A length-only
// segment (Buf==nil) simply records used as a pending size.
func (b *Buffer) SetUsed(used int) error {
	if b == nil || b.root == nil {
		return NewStatusErr("buffer.SetUsed", StatusArgumentsBad)
	}
	seg := b.root
	if seg.Buf == nil {
		seg.Len = used
		return nil
	}
	for seg != nil {
		if seg.Buf == nil {
			break
		}
		capacity := cap(seg.Buf)
		if used <= capacity {
			seg.Buf = seg.Buf[:used]
			seg.Len = used
			return nil
		}
		used -= capacity
		seg.Buf = seg.Buf[:capacity]
		seg.Len = capacity
		seg = seg.Next
	}
	if used > 0 {
		return NewStatusErr("buffer.SetUsed", StatusBufferTooSmall)
	}
	return nil
}

// GetUsed sums Len over the active prefix: every segment up to and
// including the first one whose Buf is nil or whose Len is zero.
func (b *Buffer) GetUsed() int {
	if b == nil || b.root == nil {
		return 0
	}
	seg := b.root
	used := 0
	for seg != nil {
		used += seg.Len
		if seg.Buf == nil || seg.Len == 0 {
			break
		}
		seg = seg.Next
	}
	return used
}

// String renders the used bytes as hex for logging; it never panics on a
// partially-populated or length-only Buffer.
func (b *Buffer) String() string {
	used := b.GetUsed()
	out := make([]byte, used)
	if err := b.ReadBytes(0, out, used); err != nil {
		return fmt.Sprintf("<buffer used=%d unreadable: %v>", used, err)
	}
	return fmt.Sprintf("%x", out)
}
