// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

// PatternNamespace prefixes every generated pattern symbol name, which has
// the form "<PatternNamespace>.Pattern.<hex>"; that prefix is reserved for
// pattern-match symbols. Kept as a package
// variable rather than a constant so deployments can rebrand the namespace
// without recompiling.
var PatternNamespace = "Artifact"

// Pattern is a canonicalised binary signature (spec §3 "Pattern").
type Pattern struct {
	// Name is "<NS>.Pattern.<16-byte-hex>".
	Name string
	// Canonical is the canonical byte-level form the name's digest was taken over.
	Canonical string
	// Signature is "<name>:0:<anchor-or-*>:<canonical-body>".
	Signature string
}
