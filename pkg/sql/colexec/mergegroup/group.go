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

package mergegroup

import (
	"bytes"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
	"github.com/matrixorigin/aggmerge/pkg/vm/process"
)

func New(proc *process.Process, fn aggexec.AggFunc) *Operator {
	return &Operator{
		proc:   proc,
		fn:     fn,
		groups: btree.New(btreeDegree),
	}
}

func (op *Operator) String(buf *bytes.Buffer) {
	buf.WriteString("mergegroup(")
	buf.WriteString(aggexec.FullName(op.fn))
	buf.WriteString(")")
}

// Len is the number of groups.
func (op *Operator) Len() int {
	return op.groups.Len()
}

// Fill adds row i of states to the group keys[i]. Consecutive rows of
// one key are added as a run.
func (op *Operator) Fill(keys [][]byte, states *vector.Vector) error {
	if len(keys) != states.Length() {
		return moerr.NewInvalidInputNoCtx("%d group keys for %d states", len(keys), states.Length())
	}
	cols := []*vector.Vector{states}
	runs := op.fn.CanOptimizeEqualKeysRanges()
	for i := 0; i < len(keys); {
		j := i + 1
		if runs {
			for j < len(keys) && bytes.Equal(keys[i], keys[j]) {
				j++
			}
		}
		place, err := op.getOrCreate(keys[i])
		if err != nil {
			return err
		}
		if err := aggexec.AddBatchSinglePlace(op.fn, place, cols, i, j, op.proc.Arena); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func (op *Operator) getOrCreate(key []byte) (aggexec.Place, error) {
	op.lookups++
	if item := op.groups.Get(&group{key: key}); item != nil {
		return item.(*group).place, nil
	}
	place, err := aggexec.AllocState(op.fn, op.proc.Arena)
	if err != nil {
		return nil, err
	}
	op.groups.ReplaceOrInsert(&group{
		key:   append([]byte(nil), key...),
		place: place,
	})
	return place, nil
}

// MergeFrom moves the groups of others into op. Groups op already has
// are merged with the merge coordinator of the process, the others are
// taken over. others are left empty, even when the merge is cancelled
// or fails.
func (op *Operator) MergeFrom(others ...*Operator) (aggexec.MergeResult, error) {
	var (
		res   aggexec.MergeResult
		dsts  []*group
		srcs  = make(map[*group][]aggexec.Place)
		taken []aggexec.Place
	)
	for _, other := range others {
		if other == op {
			continue
		}
		other.groups.Ascend(func(item btree.Item) bool {
			g := item.(*group)
			existing := op.groups.Get(g)
			if existing == nil {
				op.groups.ReplaceOrInsert(g)
				return true
			}
			dst := existing.(*group)
			if _, ok := srcs[dst]; !ok {
				dsts = append(dsts, dst)
			}
			srcs[dst] = append(srcs[dst], g.place)
			taken = append(taken, g.place)
			return true
		})
		other.groups.Clear(false)
	}
	defer aggexec.DestroyStates(op.fn, taken, op.proc.Arena)

	for _, dst := range dsts {
		r, err := op.proc.MergeStates(op.fn, dst.place, srcs[dst])
		res.Merged += r.Merged
		if err != nil {
			return res, err
		}
		if r.Cancelled {
			res.Cancelled = true
			return res, nil
		}
	}
	op.proc.Debug("merge groups",
		zap.String("function", aggexec.FullName(op.fn)),
		zap.Int("groups", op.groups.Len()),
		zap.Int("merged", res.Merged))
	return res, nil
}

// Finalize returns the keys of all groups in order with their results.
func (op *Operator) Finalize() ([][]byte, *vector.Vector, error) {
	keys := make([][]byte, 0, op.groups.Len())
	var result *vector.Vector
	if typ := op.fn.ResultType(); typ.Oid() == types.T_aggstate {
		result = vector.NewStateVec(typ, false)
	} else {
		result = vector.NewVec(typ)
	}
	var err error
	op.groups.Ascend(func(item btree.Item) bool {
		g := item.(*group)
		if err = op.fn.InsertResultInto(g.place, result, op.proc.Arena); err != nil {
			return false
		}
		keys = append(keys, g.key)
		return true
	})
	if err != nil {
		result.Free()
		return nil, nil, err
	}
	return keys, result, nil
}

// Free destroys the state of every group.
func (op *Operator) Free() {
	if op.groups == nil {
		return
	}
	if !op.fn.HasTrivialDestructor() {
		op.groups.Ascend(func(item btree.Item) bool {
			op.fn.Destroy(item.(*group).place, op.proc.Arena)
			return true
		})
	}
	op.groups.Clear(false)
}
