// Copyright 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package arena is the query-scoped bump allocator that aggregate states
// reference by handle. Memory is handed out from fixed size pages and is
// only given back as a whole by Reset.
package arena

import (
	"context"
	"encoding/binary"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/logutil"
)

const (
	// DefaultPageSize is the page size used when none is configured.
	DefaultPageSize = 64 << 10
	// RefSize is the number of bytes a Ref occupies inside a state.
	RefSize = 12
	// HandleSize is the number of bytes a Handle occupies inside a state.
	HandleSize = 4
	// MaxAlign is the largest alignment Alloc accepts.
	MaxAlign = 4096
)

// Ref addresses a block of arena memory. Page numbers start from 1 so the
// zero Ref means no allocation.
type Ref struct {
	Page   uint32
	Offset uint32
	Len    uint32
}

// IsZero reports whether r addresses nothing.
func (r Ref) IsZero() bool {
	return r.Page == 0
}

// PutRef stores r into the first RefSize bytes of b.
func PutRef(b []byte, r Ref) {
	_ = b[RefSize-1]
	binary.LittleEndian.PutUint32(b[0:], r.Page)
	binary.LittleEndian.PutUint32(b[4:], r.Offset)
	binary.LittleEndian.PutUint32(b[8:], r.Len)
}

// GetRef loads the Ref stored by PutRef.
func GetRef(b []byte) Ref {
	_ = b[RefSize-1]
	return Ref{
		Page:   binary.LittleEndian.Uint32(b[0:]),
		Offset: binary.LittleEndian.Uint32(b[4:]),
		Len:    binary.LittleEndian.Uint32(b[8:]),
	}
}

// Handle indexes a Go object registered with NewObject. Zero is the nil handle.
type Handle uint32

// PutHandle stores h into the first HandleSize bytes of b.
func PutHandle(b []byte, h Handle) {
	binary.LittleEndian.PutUint32(b, uint32(h))
}

// GetHandle loads the Handle stored by PutHandle.
func GetHandle(b []byte) Handle {
	return Handle(binary.LittleEndian.Uint32(b))
}

type page struct {
	mem []byte
	off int
}

// Arena is safe for concurrent use: workers of one query share it while
// merging states in parallel.
type Arena struct {
	mu        sync.RWMutex
	pageSize  int
	limit     int64
	allocated int64
	pages     []page
	objects   []any
	free      []Handle
}

// New returns an arena with the given page size. limit bounds the bytes
// Alloc may hand out, zero means unlimited.
func New(pageSize int, limit int64) *Arena {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Arena{
		pageSize: pageSize,
		limit:    limit,
	}
}

// Alloc returns a block of size bytes whose address is a multiple of align.
// The block is zeroed.
func (a *Arena) Alloc(size, align int) (Ref, error) {
	if size < 0 || align <= 0 || align > MaxAlign || align&(align-1) != 0 {
		return Ref{}, moerr.NewInvalidArgNoCtx("arena alloc", []int{size, align})
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit > 0 && a.allocated+int64(size) > a.limit {
		return Ref{}, moerr.NewOOMNoCtx()
	}
	// existing pages first, the tail page usually has room
	for i := len(a.pages) - 1; i >= 0; i-- {
		p := &a.pages[i]
		if off, ok := fit(p, size, align); ok {
			p.off = off + size
			a.allocated += int64(size)
			return Ref{Page: uint32(i + 1), Offset: uint32(off), Len: uint32(size)}, nil
		}
	}
	n := a.pageSize
	oversized := size+align > n
	if oversized {
		n = size + align
	}
	a.pages = append(a.pages, page{mem: make([]byte, n)})
	p := &a.pages[len(a.pages)-1]
	off, ok := fit(p, size, align)
	if !ok {
		panic("arena: fresh page cannot fit allocation")
	}
	p.off = off + size
	if oversized {
		// an oversized block gets its page to itself
		p.off = len(p.mem)
	}
	a.allocated += int64(size)
	return Ref{Page: uint32(len(a.pages)), Offset: uint32(off), Len: uint32(size)}, nil
}

func fit(p *page, size, align int) (int, bool) {
	base := uintptr(unsafe.Pointer(unsafe.SliceData(p.mem)))
	addr := base + uintptr(p.off)
	pad := int((uintptr(align) - addr%uintptr(align)) % uintptr(align))
	off := p.off + pad
	if off+size > len(p.mem) {
		return 0, false
	}
	return off, true
}

// Realloc moves the block of old into a fresh block of size bytes. The
// bytes of old are abandoned until Reset.
func (a *Arena) Realloc(old Ref, size, align int) (Ref, error) {
	ref, err := a.Alloc(size, align)
	if err != nil {
		return Ref{}, err
	}
	if !old.IsZero() {
		copy(a.Bytes(ref), a.Bytes(old))
	}
	return ref, nil
}

// Bytes returns the memory addressed by r. It stays valid until Reset.
func (a *Arena) Bytes(r Ref) []byte {
	if r.IsZero() {
		return nil
	}
	a.mu.RLock()
	mem := a.pages[r.Page-1].mem
	a.mu.RUnlock()
	end := r.Offset + r.Len
	return mem[r.Offset:end:end]
}

// NewObject registers v and returns its handle.
func (a *Arena) NewObject(v any) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.objects[h-1] = v
		return h
	}
	a.objects = append(a.objects, v)
	return Handle(len(a.objects))
}

// Object returns the value registered under h, nil for the nil handle.
func (a *Arena) Object(h Handle) any {
	if h == 0 {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.objects[h-1]
}

// SetObject replaces the value registered under h.
func (a *Arena) SetObject(h Handle, v any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects[h-1] == nil {
		panic(moerr.NewInvalidStateNoCtx("arena object %d is released", h))
	}
	a.objects[h-1] = v
}

// ReleaseObject drops the value registered under h so its slot can be reused.
func (a *Arena) ReleaseObject(h Handle) {
	if h == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects[h-1] == nil {
		panic(moerr.NewInvalidStateNoCtx("arena object %d released twice", h))
	}
	a.objects[h-1] = nil
	a.free = append(a.free, h)
}

// Allocated returns the bytes handed out since the last Reset.
func (a *Arena) Allocated() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.allocated
}

// Objects returns the number of live objects.
func (a *Arena) Objects() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.objects) - len(a.free)
}

// Reset gives back every page and object. Refs and handles taken before
// Reset must not be used afterwards.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	logutil.GetLogger(context.Background()).Debug("arena reset",
		zap.Int64("allocated", a.allocated),
		zap.Int("pages", len(a.pages)),
		zap.Int("objects", len(a.objects)-len(a.free)))
	a.pages = nil
	a.objects = nil
	a.free = nil
	a.allocated = 0
}
