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

package aggexec

import (
	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
)

// AllocState allocates a state of fn in the arena and creates it.
func AllocState(fn AggFunc, a *arena.Arena) (Place, error) {
	ref, err := a.Alloc(fn.SizeOfData(), fn.AlignOfData())
	if err != nil {
		return nil, err
	}
	place := Place(a.Bytes(ref))
	fn.Create(place)
	return place, nil
}

// AllocStates allocates n created states of fn from one arena block.
func AllocStates(fn AggFunc, a *arena.Arena, n int) ([]Place, error) {
	if n == 0 {
		return nil, nil
	}
	size, align := fn.SizeOfData(), fn.AlignOfData()
	stride := (size + align - 1) / align * align
	ref, err := a.Alloc(stride*n, align)
	if err != nil {
		return nil, err
	}
	mem := a.Bytes(ref)
	places := make([]Place, n)
	for i := range places {
		places[i] = Place(mem[i*stride : i*stride+size : i*stride+size])
		fn.Create(places[i])
	}
	return places, nil
}

// DestroyStates destroys every place, skipped for trivial destructors.
func DestroyStates(fn AggFunc, places []Place, a *arena.Arena) {
	if fn.HasTrivialDestructor() {
		return
	}
	for _, place := range places {
		fn.Destroy(place, a)
	}
}

// AddBatchSinglePlace folds rows [from, to) of cols into one place.
func AddBatchSinglePlace(fn AggFunc, place Place, cols []*vector.Vector, from, to int, a *arena.Arena) error {
	for row := from; row < to; row++ {
		if err := fn.Add(place, cols, row, a); err != nil {
			return err
		}
	}
	return nil
}
