// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sandbox

import "time"

const (
	// DefaultMaxStackBytes is the stack ceiling for one runtime.
	DefaultMaxStackBytes = 512 * 1024

	// DefaultMaxMemoryBytes is the heap ceiling for one runtime.
	DefaultMaxMemoryBytes = 32 * 1024 * 1024

	// DefaultMaxOutputBytes caps the JSON text a phase may hand back.
	DefaultMaxOutputBytes = 1024 * 1024

	// MinTimeout and MaxTimeout bound the per-phase deadline.
	MinTimeout = 2 * time.Second
	MaxTimeout = 30 * time.Second

	// stackFrameBytes converts the byte budget into the interpreter's
	// call-depth budget.
	stackFrameBytes = 256
)

// Limits bounds one interpreter session.
type Limits struct {
	// MaxStackBytes is converted to a call-depth limit
	MaxStackBytes int

	// MaxMemoryBytes caps the runtime's heap; allocation beyond it throws
	MaxMemoryBytes int64

	// MaxOutputBytes caps the serialized request or result
	MaxOutputBytes int

	// Timeout is the phase deadline; it is clamped to [MinTimeout, MaxTimeout]
	Timeout time.Duration
}

// DefaultLimits returns the limits used when the caller sets none.
func DefaultLimits() Limits {
	return Limits{
		MaxStackBytes:  DefaultMaxStackBytes,
		MaxMemoryBytes: DefaultMaxMemoryBytes,
		MaxOutputBytes: DefaultMaxOutputBytes,
		Timeout:        10 * time.Second,
	}
}

// ClampTimeout bounds d to [MinTimeout, MaxTimeout].
func ClampTimeout(d time.Duration) time.Duration {
	return min(max(d, MinTimeout), MaxTimeout)
}

func (l Limits) normalized() Limits {
	if l.MaxStackBytes <= 0 {
		l.MaxStackBytes = DefaultMaxStackBytes
	}
	if l.MaxMemoryBytes <= 0 {
		l.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	if l.MaxOutputBytes <= 0 {
		l.MaxOutputBytes = DefaultMaxOutputBytes
	}
	l.Timeout = ClampTimeout(l.Timeout)
	return l
}

func (l Limits) frames() int {
	return max(l.MaxStackBytes/stackFrameBytes, 64)
}
