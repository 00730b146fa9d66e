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

package agg

import (
	"sync"

	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
)

var (
	defaultFactory     *aggexec.Factory
	defaultFactoryOnce sync.Once
)

// RegisterAll adds every function of this package to f.
func RegisterAll(f *aggexec.Factory) {
	f.Register("sum", newAggSum)
	f.Register("count", newAggCount)
	f.Register("avg", newAggAvg)
	f.Register("quantile", newAggQuantile)
	f.Register("uniq", newAggUniq)
	f.Register("groupBitmap", newAggGroupBitmap)
}

// DefaultFactory is a process wide factory holding every function of this package.
func DefaultFactory() *aggexec.Factory {
	defaultFactoryOnce.Do(func() {
		defaultFactory = aggexec.NewFactory()
		RegisterAll(defaultFactory)
	})
	return defaultFactory
}
