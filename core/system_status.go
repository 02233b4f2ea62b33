package core

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"
	"time"
)

// SessionCounter reports live sessions. Only server-side stores can count.
type SessionCounter interface {
	Count(ctx context.Context) (int, error)
}

// Pinger checks backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemStatus is the aggregate shown on the admin status page.
type SystemStatus struct {
	Sessions struct {
		Active  int  `json:"active"`
		Tracked bool `json:"tracked"`
	} `json:"sessions"`
	Backend struct {
		Reachable bool   `json:"reachable"`
		LatencyMS int64  `json:"latency_ms"`
		Error     string `json:"error,omitempty"`
	} `json:"backend"`
	Memory struct {
		UsedBytes  uint64 `json:"used_bytes"`
		TotalBytes uint64 `json:"total_bytes"`
	} `json:"memory"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// CollectSystemStatus gathers the current status. Every check is best-effort;
// a failing check shows up in the result rather than as an error.
func CollectSystemStatus(ctx context.Context, counter SessionCounter, backend Pinger, startedAt time.Time) SystemStatus {
	var st SystemStatus

	if counter != nil {
		if n, err := counter.Count(ctx); err == nil {
			st.Sessions.Active = n
			st.Sessions.Tracked = true
		}
	}

	if backend != nil {
		start := time.Now()
		err := backend.Ping(ctx)
		st.Backend.LatencyMS = time.Since(start).Milliseconds()
		if err != nil {
			st.Backend.Error = userMessage(err)
		} else {
			st.Backend.Reachable = true
		}
	}

	// Memory (best-effort from /proc/meminfo)
	used, total := readMemInfo()
	st.Memory.UsedBytes = used
	st.Memory.TotalBytes = total

	if !startedAt.IsZero() {
		st.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}

	return st
}

// readMemInfo returns used and total bytes using /proc/meminfo.
// If unavailable, returns zeros.
func readMemInfo() (used, total uint64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	var memTotal, memAvailable uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			memTotal = parseKiBLine(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			memAvailable = parseKiBLine(line)
		}
	}
	if memTotal == 0 {
		return 0, 0
	}
	if memAvailable <= memTotal {
		used = memTotal - memAvailable
	}
	return used * 1024, memTotal * 1024
}

func parseKiBLine(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
