package target

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
)

// LoadELF writes every PT_LOAD segment of the binary at its physical
// address and zero-fills the remainder of segments whose memory size exceeds
// their file size. With set_pc_addr configured the entry point is written
// there last.
func (t *Target) LoadELF(path string) error {
	f, err := elf.Open(path)
	if err != nil {
		return &OpError{Op: "load", Target: t.cfg.ID, Err: err}
	}
	defer f.Close()

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}

		if p.Filesz > p.Memsz || p.Paddr+p.Memsz > 1<<32 || p.Paddr+p.Memsz < p.Paddr {
			return &OpError{Op: "load", Target: t.cfg.ID, Err: fmt.Errorf("%s: segment at 0x%x size 0x%x: %w", path, p.Paddr, p.Memsz, ErrSegmentRange)}
		}

		data, err := io.ReadAll(io.LimitReader(p.Open(), int64(p.Filesz)))
		if err != nil {
			return &OpError{Op: "load", Target: t.cfg.ID, Err: fmt.Errorf("%s: segment at 0x%x: %w", path, p.Paddr, err)}
		}
		if err := t.Write(uint32(p.Paddr), data); err != nil {
			return err
		}

		if err := t.zeroFill(uint32(p.Paddr+p.Filesz), p.Memsz-p.Filesz); err != nil {
			return err
		}
	}

	if t.cfg.SetPCAddr != nil {
		if f.Entry >= 1<<32 {
			return &OpError{Op: "load", Target: t.cfg.ID, Err: fmt.Errorf("%s: entry 0x%x: %w", path, f.Entry, ErrSegmentRange)}
		}
		return t.Write32(*t.cfg.SetPCAddr, uint32(f.Entry))
	}
	return nil
}

func (t *Target) zeroFill(addr uint32, size uint64) error {
	zeros := make([]byte, min(size, maxChunk))
	for off := uint64(0); off < size; off += maxChunk {
		n := min(maxChunk, size-off)
		if err := t.Write(addr+uint32(off), zeros[:n]); err != nil {
			return err
		}
	}
	return nil
}

// SymbolAddr returns the value of the first symbol called name found in the
// configured binaries.
func (t *Target) SymbolAddr(name string) (uint64, error) {
	for _, bin := range t.cfg.Binaries {
		addr, ok, err := lookupSymbol(bin, name)
		if err != nil {
			return 0, err
		}
		if ok {
			return addr, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", name, ErrSymbolNotFound)
}

func lookupSymbol(path, name string) (uint64, bool, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	syms, err := f.Symbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", path, err)
	}
	for _, s := range syms {
		if s.Name == name {
			return s.Value, true, nil
		}
	}
	return 0, false, nil
}
