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

package arena

import (
	"sync"
	"testing"
	"unsafe"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
)

func addr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func TestArena(t *testing.T) {
	Convey("Given an arena with small pages", t, func() {
		a := New(256, 0)

		Convey("Alloc honours the requested alignment", func() {
			for _, align := range []int{1, 2, 4, 8, 16, 64} {
				_, err := a.Alloc(3, 1)
				So(err, ShouldBeNil)
				ref, err := a.Alloc(24, align)
				So(err, ShouldBeNil)
				So(addr(a.Bytes(ref))%uintptr(align), ShouldEqual, uintptr(0))
				So(len(a.Bytes(ref)), ShouldEqual, 24)
			}
		})

		Convey("Blocks are zeroed and do not overlap", func() {
			r1, err := a.Alloc(100, 8)
			So(err, ShouldBeNil)
			r2, err := a.Alloc(100, 8)
			So(err, ShouldBeNil)
			So(a.Bytes(r1), ShouldResemble, make([]byte, 100))
			for i := range a.Bytes(r1) {
				a.Bytes(r1)[i] = 0xff
			}
			So(a.Bytes(r2), ShouldResemble, make([]byte, 100))
			So(a.Allocated(), ShouldEqual, int64(200))
		})

		Convey("Oversized blocks get their own page", func() {
			ref, err := a.Alloc(1000, 8)
			So(err, ShouldBeNil)
			So(len(a.Bytes(ref)), ShouldEqual, 1000)
			small, err := a.Alloc(8, 8)
			So(err, ShouldBeNil)
			So(small.Page, ShouldNotEqual, ref.Page)

			// leftover bytes of the oversized page stay unused
			for i := 0; i < 64; i++ {
				r, err := a.Alloc(1, 1)
				So(err, ShouldBeNil)
				So(r.Page, ShouldNotEqual, ref.Page)
			}
			So(a.Allocated(), ShouldEqual, int64(1000+8+64))
		})

		Convey("Realloc copies the old bytes", func() {
			old, err := a.Alloc(4, 4)
			So(err, ShouldBeNil)
			copy(a.Bytes(old), []byte{1, 2, 3, 4})
			ref, err := a.Realloc(old, 8, 4)
			So(err, ShouldBeNil)
			So(a.Bytes(ref), ShouldResemble, []byte{1, 2, 3, 4, 0, 0, 0, 0})
		})

		Convey("Bad alignment is rejected", func() {
			_, err := a.Alloc(8, 3)
			So(moerr.IsMoErrCode(err, moerr.ErrInvalidArg), ShouldBeTrue)
			_, err = a.Alloc(8, 0)
			So(moerr.IsMoErrCode(err, moerr.ErrInvalidArg), ShouldBeTrue)
		})

		Convey("Refs survive a round trip through state bytes", func() {
			ref, err := a.Alloc(10, 2)
			So(err, ShouldBeNil)
			buf := make([]byte, RefSize)
			PutRef(buf, ref)
			So(GetRef(buf), ShouldResemble, ref)
			So(GetRef(make([]byte, RefSize)).IsZero(), ShouldBeTrue)
			So(a.Bytes(Ref{}), ShouldBeNil)
		})

		Convey("Objects are addressed by handle and slots are reused", func() {
			h1 := a.NewObject("first")
			h2 := a.NewObject("second")
			So(h1, ShouldNotEqual, Handle(0))
			So(a.Object(h2), ShouldEqual, "second")
			So(a.Object(0), ShouldBeNil)
			So(a.Objects(), ShouldEqual, 2)

			a.ReleaseObject(h1)
			So(a.Objects(), ShouldEqual, 1)
			So(func() { a.ReleaseObject(h1) }, ShouldPanic)
			h3 := a.NewObject("third")
			So(h3, ShouldEqual, h1)
			a.SetObject(h3, "replaced")
			So(a.Object(h3), ShouldEqual, "replaced")

			buf := make([]byte, HandleSize)
			PutHandle(buf, h3)
			So(GetHandle(buf), ShouldEqual, h3)
		})

		Convey("Reset gives everything back", func() {
			_, err := a.Alloc(64, 8)
			So(err, ShouldBeNil)
			a.NewObject(1)
			a.Reset()
			So(a.Allocated(), ShouldEqual, int64(0))
			So(a.Objects(), ShouldEqual, 0)
		})
	})

	Convey("Given an arena with a limit", t, func() {
		a := New(0, 128)

		Convey("Exceeding the limit is out of memory", func() {
			_, err := a.Alloc(100, 8)
			So(err, ShouldBeNil)
			_, err = a.Alloc(100, 8)
			So(moerr.IsMoErrCode(err, moerr.ErrOOM), ShouldBeTrue)
			So(a.Allocated(), ShouldEqual, int64(100))
		})
	})
}

func TestArenaConcurrentAlloc(t *testing.T) {
	Convey("Concurrent allocations never share bytes", t, func() {
		a := New(1024, 0)
		const workers, each = 8, 200
		refs := make([][]Ref, workers)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < each; i++ {
					ref, err := a.Alloc(8, 8)
					if err != nil {
						panic(err)
					}
					a.Bytes(ref)[0] = byte(w)
					refs[w] = append(refs[w], ref)
				}
			}(w)
		}
		wg.Wait()

		seen := make(map[Ref]struct{})
		for w := range refs {
			for _, ref := range refs[w] {
				_, dup := seen[ref]
				So(dup, ShouldBeFalse)
				seen[ref] = struct{}{}
				So(a.Bytes(ref)[0], ShouldEqual, byte(w))
			}
		}
		So(a.Allocated(), ShouldEqual, int64(workers*each*8))
	})
}
