//go:build windows

package pathgen

import (
	"encoding/binary"
	"math"
	"os"

	"qscenario/internal/qerrors"
)

// mmapBacking falls back to a plain buffered file with random-access
// ReadAt/WriteAt on windows, since syscall.Mmap has no windows
// implementation in the standard library (mirrors the teacher's
// process_monitor_windows.go build-tag fallback for platform reads it
// cannot do the unix way).
type mmapBacking struct {
	file *os.File
}

func newMmapBacking(n int) (backing, error) {
	f, err := os.CreateTemp("", "qscenario-paths-*.bin")
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindResourceLimit, qerrors.SubNone, "cannot create path spill file", err)
	}
	size := int64(n) * 8
	if size == 0 {
		size = 8
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, qerrors.Wrap(qerrors.KindResourceLimit, qerrors.SubNone, "cannot size path spill file", err)
	}
	return &mmapBacking{file: f}, nil
}

func (m *mmapBacking) set(idx int, v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	m.file.WriteAt(buf[:], int64(idx)*8)
}

func (m *mmapBacking) get(idx int) float64 {
	var buf [8]byte
	m.file.ReadAt(buf[:], int64(idx)*8)
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))
}

func (m *mmapBacking) close() error {
	name := m.file.Name()
	err := m.file.Close()
	os.Remove(name)
	return err
}

// availableRAMBytes has no cgo-free windows API in the pack's dependency
// set; returns 0 so the caller falls back to the memory tier rather than
// guessing at a wrong threshold.
func availableRAMBytes() uint64 {
	return 0
}
