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

package sandbox

import (
	"errors"
	"fmt"
)

// DenialKind identifies one of the four §7 sandbox denial conditions.
type DenialKind string

const (
	SandboxImportDenied  DenialKind = "SandboxImportDenied"
	SandboxBuiltinDenied DenialKind = "SandboxBuiltinDenied"
	SandboxTimeout       DenialKind = "SandboxTimeout"
	SandboxRuntimeFault  DenialKind = "SandboxRuntimeFault"
)

// errSandbox is the single error type the loader and callable return;
// Kind distinguishes the four denial conditions for mutation-context
// reporting (§7) without the caller needing errors.As per kind.
type errSandbox struct {
	Kind  DenialKind
	Msg   string
	cause error
}

func (e *errSandbox) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("sandbox: %s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("sandbox: %s: %s", e.Kind, e.Msg)
}

func (e *errSandbox) Unwrap() error { return e.cause }

func importDenied(name string) error {
	return &errSandbox{Kind: SandboxImportDenied, Msg: "module not on whitelist: " + name}
}

func builtinDenied(name string) error {
	return &errSandbox{Kind: SandboxBuiltinDenied, Msg: "capability not permitted: " + name}
}

func timeout(deadlineErr error) error {
	return &errSandbox{Kind: SandboxTimeout, Msg: "execution exceeded deadline", cause: deadlineErr}
}

func runtimeFault(cause error) error {
	return &errSandbox{Kind: SandboxRuntimeFault, Msg: "allele raised an uncaught error", cause: cause}
}

// KindOf extracts the DenialKind from err, if err (or something it
// wraps) is a sandbox denial. ok is false for any other error.
func KindOf(err error) (kind DenialKind, ok bool) {
	var se *errSandbox
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}
