package vmport

import lua "github.com/yuin/gopher-lua"

// MultiValue is a Lua multi-value: zero or more values returned from a
// resume, a require, or passed as resume-arguments.
type MultiValue []lua.LValue

// RegistryKey references a MultiValue pinned by Pin. Cache entries (the
// require cache's Results map) hold these instead of raw LValues so
// cache code mirrors the reference's registry-key indirection, even
// though gopher-lua values are plain Go pointers the Go garbage
// collector already keeps alive once referenced from the pin table.
type RegistryKey uint64

// Pin stores values under a fresh RegistryKey and returns it.
func (p *Port) Pin(values MultiValue) RegistryKey {
	p.regMu.Lock()
	defer p.regMu.Unlock()
	p.regSeq++
	key := RegistryKey(p.regSeq)
	p.reg[key] = values
	return key
}

// Lookup returns the values pinned under key.
func (p *Port) Lookup(key RegistryKey) (MultiValue, bool) {
	p.regMu.Lock()
	defer p.regMu.Unlock()
	v, ok := p.reg[key]
	return v, ok
}

// Unpin releases the values pinned under key.
func (p *Port) Unpin(key RegistryKey) {
	p.regMu.Lock()
	defer p.regMu.Unlock()
	delete(p.reg, key)
}
