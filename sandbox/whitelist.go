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
	"crypto/sha256"
	"encoding/hex"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// whitelistedModules names the general-purpose facilities §4.C permits:
// string processing, hashing, regular expressions, containers, math,
// date-time, and iteration/functional helpers. Every other module name
// resolves with SandboxImportDenied.
var whitelistedModules = map[string]func(*goja.Runtime) goja.Value{
	"strings":    bindStrings,
	"hashing":    bindHashing,
	"regexp":     bindRegexp,
	"containers": bindContainers,
	"math":       bindMath,
	"datetime":   bindDatetime,
	"functional": bindFunctional,
}

// installRequire wires a controlled CommonJS-style require into rt: a
// call for any module name not in whitelistedModules fails with
// SandboxImportDenied instead of touching the filesystem, which is how
// goja's stock require would behave otherwise.
func installRequire(rt *goja.Runtime) {
	cache := map[string]goja.Value{}
	require := func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if mod, ok := cache[name]; ok {
			return mod
		}
		ctor, ok := whitelistedModules[name]
		if !ok {
			panic(rt.NewGoError(importDenied(name)))
		}
		mod := ctor(rt)
		cache[name] = mod
		return mod
	}
	rt.Set("require", require)
}

func bindStrings(rt *goja.Runtime) goja.Value {
	obj := rt.NewObject()
	_ = obj.Set("trim", func(s string) string { return strings.TrimSpace(s) })
	_ = obj.Set("toUpper", strings.ToUpper)
	_ = obj.Set("toLower", strings.ToLower)
	_ = obj.Set("split", func(s, sep string) []string { return strings.Split(s, sep) })
	_ = obj.Set("join", func(parts []string, sep string) string { return strings.Join(parts, sep) })
	_ = obj.Set("contains", strings.Contains)
	_ = obj.Set("replace", func(s, old, new string) string { return strings.ReplaceAll(s, old, new) })
	return obj
}

func bindHashing(rt *goja.Runtime) goja.Value {
	obj := rt.NewObject()
	_ = obj.Set("sha256", func(s string) string {
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	})
	return obj
}

func bindRegexp(rt *goja.Runtime) goja.Value {
	obj := rt.NewObject()
	_ = obj.Set("match", func(pattern, s string) (bool, error) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(s), nil
	})
	_ = obj.Set("findAll", func(pattern, s string) ([]string, error) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return re.FindAllString(s, -1), nil
	})
	return obj
}

func bindContainers(rt *goja.Runtime) goja.Value {
	obj := rt.NewObject()
	_ = obj.Set("unique", func(in []interface{}) []interface{} {
		seen := map[interface{}]struct{}{}
		out := make([]interface{}, 0, len(in))
		for _, v := range in {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
		return out
	})
	return obj
}

func bindMath(rt *goja.Runtime) goja.Value {
	obj := rt.NewObject()
	_ = obj.Set("round", math.Round)
	return obj
}

func bindDatetime(rt *goja.Runtime) goja.Value {
	obj := rt.NewObject()
	_ = obj.Set("nowUnix", func() int64 { return clock().Unix() })
	_ = obj.Set("format", func(unix int64, layout string) string {
		return time.Unix(unix, 0).UTC().Format(layout)
	})
	return obj
}

func bindFunctional(rt *goja.Runtime) goja.Value {
	obj := rt.NewObject()
	_ = obj.Set("identity", func(v goja.Value) goja.Value { return v })
	return obj
}

// clock lets tests freeze time observed inside the sandbox without
// touching the wall-clock watchdog deadline.
var clock = time.Now
