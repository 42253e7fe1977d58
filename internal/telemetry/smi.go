package telemetry

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SMIQuerier reads utilization and memory for one device via nvidia-smi.
type SMIQuerier struct {
	DeviceIndex int
}

func (q *SMIQuerier) Query(ctx context.Context) (Reading, error) {
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu,memory.used",
		"--format=csv,noheader,nounits",
		"-i", strconv.Itoa(q.DeviceIndex))
	out, err := cmd.Output()
	if err != nil {
		return Reading{}, fmt.Errorf("nvidia-smi: %w", err)
	}
	return ParseSMILine(string(out))
}

// ParseSMILine parses one nvidia-smi CSV line like "37, 1520".
func ParseSMILine(line string) (Reading, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 2 {
		return Reading{}, fmt.Errorf("unexpected nvidia-smi output %q", line)
	}
	util, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("parsing utilization %q: %w", fields[0], err)
	}
	mem, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("parsing memory %q: %w", fields[1], err)
	}
	return Reading{UtilizationPct: util, MemoryUsedMiB: mem}, nil
}
