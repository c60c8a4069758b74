// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scenario

import (
	"strconv"
	"strings"
)

// BuildVersion is this binary's own version, compared against every
// scenario's declared [version_min, version_max] range at load time (spec
// §4.8 "skip rows whose declared compatibility range does not include this
// build"). Set at link time would be the production path; a plain constant
// is enough here since no other component in the pack reads or sets it.
const BuildVersion = "1.0.0"

// compareVersions orders two dotted-integer version strings component by
// component, treating a missing trailing component as 0 ("1.2" == "1.2.0").
// No third-party semver package appears anywhere in the example pack, and
// the comparison this package needs is a plain three-field numeric compare,
// so this stays on the standard library rather than pulling one in for a
// dozen lines (see DESIGN.md).
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := component(as, i), component(bs, i)
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func component(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	v, err := strconv.Atoi(parts[i])
	if err != nil {
		return 0
	}
	return v
}

// versionCompatible reports whether BuildVersion falls within [min, max]
// inclusive. An empty bound is treated as unbounded on that side.
func versionCompatible(build, min, max string) bool {
	if min != "" && compareVersions(build, min) < 0 {
		return false
	}
	if max != "" && compareVersions(build, max) > 0 {
		return false
	}
	return true
}
