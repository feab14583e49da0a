package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ProcHandle wraps the browser process captured at spawn. Holding the
// pid from spawn time avoids racing a process-list scan when the
// session has to be force-killed; the start time sampled alongside it
// guards against the pid being recycled by an unrelated process.
type ProcHandle struct {
	pid       int
	proc      *os.Process
	startTime uint64
}

// NewProcHandle wraps an already-running process.
func NewProcHandle(proc *os.Process) *ProcHandle {
	if proc == nil {
		return nil
	}
	h := &ProcHandle{pid: proc.Pid, proc: proc}
	if st, err := procStartTime(proc.Pid); err == nil {
		h.startTime = st
	}
	return h
}

// sameProcess reports whether the pid still refers to the process
// captured at spawn.
func (h *ProcHandle) sameProcess() bool {
	if h.startTime == 0 {
		// No spawn-time sample to compare against.
		return true
	}
	st, err := procStartTime(h.pid)
	if err != nil {
		// Stat gone: the process exited.
		return false
	}
	return st == h.startTime
}

// Pid returns the process id.
func (h *ProcHandle) Pid() int {
	return h.pid
}

// Signal sends sig to the process.
func (h *ProcHandle) Signal(sig os.Signal) error {
	if err := h.proc.Signal(sig); err != nil {
		return fmt.Errorf("signaling pid %d: %w", h.pid, err)
	}
	return nil
}

// WaitTimeout waits for the process to exit, polling, for at most d.
// Returns true if the process exited within the window.
func (h *ProcHandle) WaitTimeout(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		// Signal 0 probes existence without delivering anything.
		if err := h.proc.Signal(syscall.Signal(0)); err != nil {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// Kill terminates the process: SIGTERM, a bounded wait, then SIGKILL.
// A pid that no longer belongs to the spawned process is left alone.
func (h *ProcHandle) Kill(gracePeriod time.Duration) error {
	if !h.sameProcess() {
		return nil
	}
	if err := h.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}
	if h.WaitTimeout(gracePeriod) {
		return nil
	}
	return h.proc.Kill()
}

// KillByTag scans the process list for browser processes whose command
// line carries the instance tag and kills them. This is the fallback
// path for when the spawn-time handle is lost (e.g. after a daemon
// restart); prefer ProcHandle.Kill when a handle exists.
func KillByTag(tag string, gracePeriod time.Duration) (int, error) {
	if tag == "" {
		return 0, fmt.Errorf("instance tag is required")
	}

	pids, err := findByCmdline(tag)
	if err != nil {
		return 0, err
	}

	killed := 0
	for _, pid := range pids {
		proc, err := os.FindProcess(pid)
		if err != nil {
			continue
		}
		h := NewProcHandle(proc)
		if err := h.Kill(gracePeriod); err == nil {
			killed++
		}
	}
	return killed, nil
}

// procStartTime reads the process start time in clock ticks since
// boot. The (pid, start time) pair identifies a process uniquely; a
// recycled pid shows a different value.
func procStartTime(pid int) (uint64, error) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, err
	}
	return parseStartTime(data)
}

// parseStartTime extracts field 22 (starttime) from a stat line. The
// comm field may contain spaces and parens, so counting starts after
// the closing paren.
func parseStartTime(data []byte) (uint64, error) {
	s := string(data)
	i := strings.LastIndexByte(s, ')')
	if i < 0 {
		return 0, fmt.Errorf("malformed stat line")
	}
	fields := strings.Fields(s[i+1:])
	// The slice starts at field 3, so starttime is at offset 19.
	if len(fields) < 20 {
		return 0, fmt.Errorf("short stat line: %d fields", len(fields))
	}
	return strconv.ParseUint(fields[19], 10, 64)
}

func findByCmdline(needle string) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("scanning process list: %w", err)
	}

	var pids []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "cmdline"))
		if err != nil {
			continue
		}
		cmdline := strings.ReplaceAll(string(data), "\x00", " ")
		if strings.Contains(cmdline, needle) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}
