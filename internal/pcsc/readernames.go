package pcsc

import "bytes"

var noReaders = []byte{0}

// ReaderNames walks a buffer of NUL-terminated reader names ended by an
// empty name. It never copies: each name is a view into the buffer passed
// to Context.ListReaders. Copy the value to walk the names again.
type ReaderNames struct {
	buf []byte
	pos int
}

// Next returns the next reader name. It reports false at the empty name
// that ends the list or when the buffer runs out.
func (r *ReaderNames) Next() ([]byte, bool) {
	if r.pos >= len(r.buf) {
		return nil, false
	}
	rest := r.buf[r.pos:]
	n := bytes.IndexByte(rest, 0)
	if n <= 0 {
		return nil, false
	}
	r.pos += n + 1
	return rest[:n:n], true
}

// Len returns the number of names not yet returned by Next.
func (r ReaderNames) Len() int {
	n := 0
	for _, ok := r.Next(); ok; _, ok = r.Next() {
		n++
	}
	return n
}

// Strings copies the remaining names out of the buffer.
func (r ReaderNames) Strings() []string {
	names := []string{}
	for name, ok := r.Next(); ok; name, ok = r.Next() {
		names = append(names, string(name))
	}
	return names
}
