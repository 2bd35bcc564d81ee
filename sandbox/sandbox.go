// Copyright 2024 The sg Authors
// This file is part of the sg library.
//
// The sg library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The sg library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the sg library. If not, see <http://www.gnu.org/licenses/>.

// Package sandbox loads allele source into an isolated callable
// (§4.C). goja backs the interpreter, the same embedded-JS route
// go-ethereum takes for its tracing subsystem (eth/tracers/js), rather
// than shelling out to an external JS engine or an OS-level sandbox.
//
// Each Load call gets its own *goja.Runtime: alleles never share
// interpreter state, so one allele's globals cannot leak into
// another's invocation.
package sandbox

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/EsteSystems/sg/digest"
)

// DefaultDeadline is the §4.C default wall-clock execution budget.
const DefaultDeadline = 30 * time.Second

// deniedGlobals lists capability names on (or conventionally expected
// on) the global object that §4.C explicitly withholds: arbitrary code
// evaluation, dynamic module loading outside the whitelist, filesystem
// access, process input, process exit. Each is replaced with a stub
// that fails the invocation with SandboxBuiltinDenied.
var deniedGlobals = []string{"eval", "Function", "os", "fs", "process", "exit"}

func denyGlobals(vm *goja.Runtime) {
	for _, name := range deniedGlobals {
		name := name
		vm.Set(name, func(goja.FunctionCall) goja.Value {
			panic(vm.NewGoError(builtinDenied(name)))
		})
	}
}

// Callable is a loaded allele: a single execute(input) -> output entry
// point, bounded by deadline.
type Callable struct {
	digest   common32
	deadline time.Duration
	vm       *goja.Runtime
	entry    goja.Callable
}

// common32 avoids importing go-ethereum/common here solely for a
// 32-byte array used only for logging context.
type common32 = [32]byte

// Load compiles source and resolves its execute entry point. source
// must declare a top-level function or assignment named execute taking
// one string and returning one string. A missing or non-callable
// execute is a SandboxRuntimeFault at load time rather than at
// invocation time; argument and return types are not checked here.
func Load(d [32]byte, source string, deadline time.Duration) (*Callable, error) {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	vm := goja.New()
	denyGlobals(vm)
	installRequire(vm)

	if _, err := vm.RunString(source); err != nil {
		return nil, classifyErr(err)
	}
	entryVal := vm.Get("execute")
	if entryVal == nil || goja.IsUndefined(entryVal) || goja.IsNull(entryVal) {
		return nil, runtimeFault(fmt.Errorf("allele %s does not define execute", digest.Hex(d)))
	}
	entry, ok := goja.AssertFunction(entryVal)
	if !ok {
		return nil, runtimeFault(fmt.Errorf("allele %s: execute is not callable", digest.Hex(d)))
	}
	return &Callable{digest: d, deadline: deadline, vm: vm, entry: entry}, nil
}

// Execute runs the callable against input with capability bound as the
// gene_sdk global (§4.C "capability object supplied at call time by the
// executor"), enforcing the wall-clock deadline via vm.Interrupt
// (§4.C "expiry raises SandboxTimeout"). capability may be nil for
// alleles that take no capability object.
func (c *Callable) Execute(input string, capability interface{}) (output string, err error) {
	if capability != nil {
		c.vm.Set("gene_sdk", capability)
	} else {
		// Clear any capability a previous invocation of this cached
		// callable bound; a capability-less run must not see it.
		c.vm.Set("gene_sdk", goja.Undefined())
	}

	timer := time.AfterFunc(c.deadline, func() {
		c.vm.Interrupt(errDeadlineExceeded)
	})
	defer timer.Stop()

	defer func() {
		if r := recover(); r != nil {
			err = classifyPanic(r)
			switch kind, _ := KindOf(err); kind {
			case SandboxImportDenied, SandboxBuiltinDenied:
				sandboxDeniedTotal.Inc(1)
			case SandboxRuntimeFault:
				sandboxFaultsTotal.Inc(1)
			}
		}
	}()

	result, runErr := c.entry(goja.Undefined(), c.vm.ToValue(input))
	if runErr != nil {
		if ie, ok := runErr.(*goja.InterruptedError); ok {
			sandboxTimeoutsTotal.Inc(1)
			if v, isErr := ie.Value().(error); isErr && v == errDeadlineExceeded {
				return "", timeout(errDeadlineExceeded)
			}
			return "", timeout(ie)
		}
		classified := classifyErr(runErr)
		switch kind, _ := KindOf(classified); kind {
		case SandboxImportDenied, SandboxBuiltinDenied:
			sandboxDeniedTotal.Inc(1)
		default:
			sandboxFaultsTotal.Inc(1)
		}
		return "", classified
	}
	return result.String(), nil
}

var errDeadlineExceeded = fmt.Errorf("sandbox: wall-clock deadline exceeded")

// classifyPanic turns a goja panic (raised by installRequire /
// install-capability Go functions using rt.NewGoError or a bare Go
// error) back into a typed sandbox error instead of letting it cross
// into caller code as an opaque panic value.
func classifyPanic(r interface{}) error {
	if err, ok := r.(error); ok {
		return classifyErr(err)
	}
	return runtimeFault(fmt.Errorf("%v", r))
}

// classifyErr unwraps a goja.Exception (the form both vm.RunString and
// a called function return for an uncaught throw or an escaped Go
// panic) back to the Go error it carries, so SandboxImportDenied and
// SandboxBuiltinDenied survive the round trip through the JS runtime
// instead of collapsing into a generic SandboxRuntimeFault.
func classifyErr(err error) error {
	if exc, ok := err.(*goja.Exception); ok {
		if goErr, ok := exc.Value().Export().(error); ok {
			return classifyExported(goErr)
		}
		// A NewGoError-raised exception carries the Go error under its
		// "value" property rather than as the exported object itself.
		if obj, ok := exc.Value().(*goja.Object); ok {
			if v := obj.Get("value"); v != nil {
				if goErr, ok := v.Export().(error); ok {
					return classifyExported(goErr)
				}
			}
		}
		return runtimeFault(fmt.Errorf("%v", exc.Value()))
	}
	return classifyExported(err)
}

func classifyExported(err error) error {
	if _, ok := KindOf(err); ok {
		return err
	}
	return runtimeFault(err)
}
