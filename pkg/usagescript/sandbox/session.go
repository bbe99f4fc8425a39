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

// Package sandbox evaluates usage scripts in short-lived QuickJS runtimes.
//
// Each phase gets a fresh runtime that is never shared or reused. Before any
// user code runs the session caps the runtime's heap and call depth, computes
// the phase deadline and installs a frozen entry object that holds the
// built-in JSON functions and eval in a closure, so a script that overwrites
// JSON cannot change how its own output is serialized. The runtime is closed
// before the phase returns; nothing from the interpreter crosses the network
// wait between phases.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"modernc.org/quickjs"

	probeerrors "github.com/tombee/usageprobe/pkg/errors"
)

// entryPoint is the global the prelude defines. It is non-writable and
// non-configurable, and the object it holds is frozen.
const entryPoint = "__usageprobe"

// prelude runs before user code. Every step a phase performs on the user's
// config goes through one of these functions so that each step can be
// attributed its own error code.
const prelude = `Object.defineProperty(globalThis, "` + entryPoint + `", {
  value: (function (stringify, parse, evaluate, apply) {
    var config, held, response;
    return Object.freeze({
      load: function (src) {
        config = evaluate(src);
        return (typeof config === "object" && config !== null) || typeof config === "function";
      },
      pick: function (name) {
        held = config[name];
        return held !== undefined && held !== null;
      },
      callable: function (name) {
        held = config[name];
        return typeof held === "function";
      },
      parseResponse: function (body) {
        response = parse(body);
      },
      extract: function () {
        held = apply(held, config, [response]);
      },
      serialize: function () {
        return stringify(held);
      }
    });
  })(JSON.stringify, JSON.parse, eval, Reflect.apply),
  writable: false,
  enumerable: false,
  configurable: false
});`

type session struct {
	vm       *quickjs.VM
	ctx      context.Context
	limits   Limits
	deadline time.Time

	// mu orders asynchronous interrupts against close.
	mu     sync.Mutex
	closed bool
	stop   func() bool
}

// newSession creates a runtime with limits applied and the prelude loaded.
func newSession(ctx context.Context, limits Limits) (s *session, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, scriptError(CodeRuntimeCreateFailed, fmt.Sprint(r))
		}
	}()

	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, scriptError(CodeRuntimeCreateFailed, err.Error()).WithCause(err)
	}
	vm.SetMemoryLimit(uintptr(limits.MaxMemoryBytes))
	vm.SetMaxStackSize(uintptr(limits.frames()))

	s = &session{
		vm:       vm,
		ctx:      ctx,
		limits:   limits,
		deadline: time.Now().Add(limits.Timeout),
	}
	s.stop = context.AfterFunc(ctx, s.interrupt)

	if err := s.arm(); err != nil {
		s.close()
		return nil, err
	}
	if _, err := vm.Eval(prelude, quickjs.EvalGlobal); err != nil {
		s.close()
		return nil, scriptError(CodeRuntimeCreateFailed, err.Error()).WithCause(err)
	}
	return s, nil
}

func (s *session) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.vm.Interrupt()
	}
}

// close disarms cancellation and releases the runtime.
func (s *session) close() {
	s.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.vm.Close()
	s.vm = nil
}

// arm gives the next evaluation whatever is left of the phase deadline.
// The interpreter re-arms its own timer on every entry, so the remaining
// budget is recomputed each time.
func (s *session) arm() error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	remaining := time.Until(s.deadline)
	if remaining <= 0 {
		return scriptError(CodeScriptTimeout, s.limits.Timeout.String())
	}
	return s.vm.SetEvalTimeout(remaining)
}

// call invokes one entry point function, converting panics and interpreter
// errors into errors carrying code.
func (s *session) call(code, fn string, args ...any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				result, err = nil, s.fail(code, e)
				return
			}
			result, err = nil, s.fail(code, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := s.arm(); err != nil {
		return nil, s.fail(code, err)
	}
	result, err = s.vm.Call(entryPoint+"."+fn, args...)
	if err != nil {
		return nil, s.fail(code, err)
	}
	return result, nil
}

// fail maps an interpreter error to a localized error. An expired deadline
// becomes a timeout and an exhausted heap a memory error, no matter which
// step was running.
func (s *session) fail(code string, err error) *probeerrors.Error {
	var perr *probeerrors.Error
	if errors.As(err, &perr) {
		return perr
	}
	if ctxErr := s.ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
		return scriptError(code, ctxErr.Error()).WithCause(err)
	}
	if !time.Now().Before(s.deadline) || errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
		return scriptError(CodeScriptTimeout, s.limits.Timeout.String()).WithCause(err)
	}
	if outOfMemory(err) {
		return scriptError(CodeScriptMemoryExceeded, formatBytes(s.limits.MaxMemoryBytes)).WithCause(err)
	}
	return scriptError(code, message(err)).WithCause(err)
}

// evaluate runs src and keeps the completion value as the session's config.
func (s *session) evaluate(src, code string) error {
	res, err := s.call(code, "load", src)
	if err != nil {
		return err
	}
	if ok, _ := res.(bool); !ok {
		return scriptError(code, "script must evaluate to an object")
	}
	return nil
}

// serialize renders the held value with the captured JSON.stringify.
func (s *session) serialize(code string) (string, error) {
	res, err := s.call(code, "serialize")
	if err != nil {
		return "", err
	}
	out, ok := res.(string)
	if !ok {
		return "", scriptError(CodeSerializeNone)
	}
	if len(out) > s.limits.MaxOutputBytes {
		return "", scriptError(code, fmt.Sprintf("output exceeds %d bytes", s.limits.MaxOutputBytes))
	}
	return out, nil
}

func outOfMemory(err error) bool {
	var qerr *quickjs.Error
	if errors.As(err, &qerr) && strings.Contains(qerr.Message, "out of memory") {
		return true
	}
	return strings.Contains(err.Error(), "out of memory")
}

// message prefers the thrown error's message over the engine's raw text,
// which may include a stack trace.
func message(err error) string {
	var qerr *quickjs.Error
	if errors.As(err, &qerr) && qerr.Message != "" {
		if qerr.Name != "" {
			return qerr.Name + ": " + qerr.Message
		}
		return qerr.Message
	}
	return err.Error()
}

func formatBytes(n int64) string {
	if n%(1<<20) == 0 {
		return fmt.Sprintf("%d MiB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}
