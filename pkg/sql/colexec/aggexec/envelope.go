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
	"github.com/gogo/protobuf/proto"
	"golang.org/x/exp/slices"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
)

// StateEnvelope carries one serialized state together with what is needed
// to rebuild its function on the receiving side.
type StateEnvelope struct {
	Name       string    `protobuf:"bytes,1,opt,name=name,proto3" json:"name,omitempty"`
	ArgTypes   []string  `protobuf:"bytes,2,rep,name=arg_types,json=argTypes,proto3" json:"arg_types,omitempty"`
	Params     []float64 `protobuf:"fixed64,3,rep,packed,name=params,proto3" json:"params,omitempty"`
	HasVersion bool      `protobuf:"varint,4,opt,name=has_version,json=hasVersion,proto3" json:"has_version,omitempty"`
	Version    uint64    `protobuf:"varint,5,opt,name=version,proto3" json:"version,omitempty"`
	Payload    []byte    `protobuf:"bytes,6,opt,name=payload,proto3" json:"payload,omitempty"`
}

func (m *StateEnvelope) Reset()         { *m = StateEnvelope{} }
func (m *StateEnvelope) String() string { return proto.CompactTextString(m) }
func (*StateEnvelope) ProtoMessage()    {}

// NewStateEnvelope serializes place with the default version of fn. The
// envelope names the base function, so states of combinators that keep
// their nested state travel as states of the nested function.
func NewStateEnvelope(fn AggFunc, place Place, a *arena.Arena) (*StateEnvelope, error) {
	base := fn.BaseWithSameStateRepresentation()
	version := NoVersion
	if fn.IsVersioned() {
		version = Version(fn.DefaultVersion())
	}
	payload, err := SerializeToBytes(fn, place, version, a)
	if err != nil {
		return nil, err
	}
	return &StateEnvelope{
		Name:       base.Name(),
		ArgTypes:   types.Names(base.ArgumentTypes()),
		Params:     base.Parameters(),
		HasVersion: version.Valid,
		Version:    version.Value,
		Payload:    payload,
	}, nil
}

func MarshalStateEnvelope(m *StateEnvelope) ([]byte, error) {
	data, err := proto.Marshal(m)
	if err != nil {
		return nil, moerr.NewInternalErrorNoCtx("marshal state envelope: %v", err)
	}
	return data, nil
}

func UnmarshalStateEnvelope(data []byte) (*StateEnvelope, error) {
	m := &StateEnvelope{}
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, moerr.NewInvalidInputNoCtx("state envelope: %v", err)
	}
	return m, nil
}

// StateVersion is the version the payload was written with.
func (m *StateEnvelope) StateVersion() StateVersion {
	if !m.HasVersion {
		return NoVersion
	}
	return Version(m.Version)
}

// SameStateType is true if both payloads are states of the same function
// written with the same version.
func (m *StateEnvelope) SameStateType(o *StateEnvelope) bool {
	return m.Name == o.Name && m.HasVersion == o.HasVersion && m.Version == o.Version &&
		slices.Equal(m.ArgTypes, o.ArgTypes) && slices.Equal(m.Params, o.Params)
}

// StateType rebuilds the function through f and returns the type of the state.
func (m *StateEnvelope) StateType(f *Factory) (*StateType, error) {
	args := make([]types.DataType, len(m.ArgTypes))
	for i, name := range m.ArgTypes {
		typ, err := types.FromName(name)
		if err != nil {
			return nil, err
		}
		args[i] = typ
	}
	fn, err := f.Get(m.Name, args, m.Params)
	if err != nil {
		return nil, err
	}
	return NewStateType(fn, m.StateVersion()), nil
}
