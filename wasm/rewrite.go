package wasm

import "fmt"

// RewriteImports returns a copy of bin in which every import's module name
// is replaced by remap(module, name). Import names and descriptors are kept
// byte for byte and every other section is copied unchanged. When remap
// leaves all names as they were the original slice is returned.
func RewriteImports(bin []byte, remap func(module, name string) string) ([]byte, error) {
	r := &reader{b: bin}
	r.header()
	if r.err != nil {
		return nil, r.err
	}

	out := make([]byte, 0, len(bin)+64)
	out = append(out, bin[:8]...)
	changed := false

	for !r.done() {
		start := r.off
		id := r.byte()
		size := r.u32()
		body := r.take(int(size))
		if r.err != nil {
			break
		}
		if id != SectionImport {
			out = append(out, bin[start:r.off]...)
			continue
		}
		rewritten, diff, err := rewriteImportSection(body, remap)
		if err != nil {
			return nil, fmt.Errorf("import section: %w", err)
		}
		changed = changed || diff
		out = append(out, SectionImport)
		out = AppendULEB128(out, uint32(len(rewritten)))
		out = append(out, rewritten...)
	}
	if r.err != nil {
		return nil, r.err
	}
	if !changed {
		return bin, nil
	}
	return out, nil
}

func rewriteImportSection(section []byte, remap func(module, name string) string) ([]byte, bool, error) {
	r := &reader{b: section}
	var w writer
	changed := false

	n := r.u32()
	w.u32(n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		module := r.name()
		name := r.name()
		descStart := r.off
		switch kind := r.byte(); kind {
		case KindFunc:
			r.u32()
		case KindTable:
			r.byte()
			r.limits()
		case KindMemory:
			r.limits()
		case KindGlobal:
			r.take(2)
		default:
			r.fail(fmt.Errorf("wasm: unknown import kind 0x%02x", kind))
		}
		if r.err != nil {
			break
		}
		target := remap(module, name)
		if target != module {
			changed = true
		}
		w.name(target)
		w.name(name)
		w.bytes(section[descStart:r.off])
	}
	if r.err != nil {
		return nil, false, r.err
	}
	return w.buf, changed, nil
}
