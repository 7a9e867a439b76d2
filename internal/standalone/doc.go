// Package standalone implements spec.md §6's standalone binary format:
// a copy of the corvid runtime with a script's compiled form appended,
// followed by a fixed trailing metadata footer the runtime recognizes
// on startup.
//
// Simplifications recorded here rather than left implicit:
//
//   - gopher-lua exposes no portable serialized-bytecode format the way
//     PUC-Lua's string.dump or Luau's own compiler does, so the
//     "embedded bytecode" this package writes is the script's raw
//     source text. It is re-parsed by gopher-lua on startup exactly
//     once, same as any other script load; the footer format and
//     detection contract are otherwise exactly as specified.
//   - Open Question 1 (SPEC_FULL.md §7, decision 1): `corvid build`
//     compiles nothing; it appends the source text as-is. The running
//     standalone binary compiles that source at every startup, the same
//     way as a file loaded from disk. No JIT setting affects either
//     step, since gopher-lua has no JIT.
package standalone

// Signature is the fixed 8-byte trailer spec.md §6 defines.
var Signature = [8]byte{0x4f, 0x3e, 0xf8, 0x41, 0xc3, 0x3a, 0x52, 0x16}

// footerSize is the three uint64 fields (file count, bytecode size,
// bytecode offset) plus the 8-byte signature.
const footerSize = 8*3 + 8
