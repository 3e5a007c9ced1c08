//go:build !windows

package pathgen

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"
	"strconv"
	"strings"
	"syscall"

	"qscenario/internal/qerrors"
)

// mmapBacking memory-maps a temp file sized for n float64 cells, mirroring
// the teacher's unix/windows build-tag split for platform-specific system
// reads (internal/orchestrator/process_monitor_unix.go).
type mmapBacking struct {
	file *os.File
	mem  []byte
}

func newMmapBacking(n int) (backing, error) {
	f, err := os.CreateTemp("", "qscenario-paths-*.bin")
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindResourceLimit, qerrors.SubNone, "cannot create memory-mapped path file", err)
	}
	size := int64(n) * 8
	if size == 0 {
		size = 8
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, qerrors.Wrap(qerrors.KindResourceLimit, qerrors.SubNone, "cannot size memory-mapped path file", err)
	}
	mem, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, qerrors.Wrap(qerrors.KindResourceLimit, qerrors.SubNone, "mmap failed", err)
	}
	return &mmapBacking{file: f, mem: mem}, nil
}

func (m *mmapBacking) set(idx int, v float64) {
	binary.LittleEndian.PutUint64(m.mem[idx*8:], math.Float64bits(v))
}

func (m *mmapBacking) get(idx int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(m.mem[idx*8:]))
}

func (m *mmapBacking) close() error {
	name := m.file.Name()
	err := syscall.Munmap(m.mem)
	m.file.Close()
	os.Remove(name)
	return err
}

// availableRAMBytes reads MemAvailable from /proc/meminfo, the same
// /proc-reading idiom the teacher uses for process stats. Returns 0 if it
// cannot be determined, which the caller treats as "assume ample RAM".
func availableRAMBytes() uint64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "MemAvailable:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				kb, err := strconv.ParseUint(fields[1], 10, 64)
				if err != nil {
					return 0
				}
				return kb * 1024
			}
		}
	}
	return 0
}
