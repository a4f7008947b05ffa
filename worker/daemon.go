package worker

import (
	"encoding/json"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/teranos/dmypyls/errors"
)

// DaemonStatus describes the dmypy daemon process behind a status file.
type DaemonStatus struct {
	StatusFile string    `json:"status_file"`
	Found      bool      `json:"found"`
	PID        int32     `json:"pid,omitempty"`
	Running    bool      `json:"running"`
	RSSBytes   uint64    `json:"rss_bytes,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// statusFile is the part of dmypy's status file we read
type statusFile struct {
	PID            int32  `json:"pid"`
	ConnectionName string `json:"connection_name"`
}

// ProbeDaemon reads the status file dmypy writes next to its working directory
// and inspects the process it names. A missing file is not an error: the
// daemon is simply not running.
func ProbeDaemon(path string) DaemonStatus {
	status := DaemonStatus{StatusFile: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			status.Error = errors.Wrap(err, "failed to read status file").Error()
		}
		return status
	}
	status.Found = true

	var sf statusFile
	if err := json.Unmarshal(data, &sf); err != nil {
		status.Error = errors.Wrap(err, "failed to parse status file").Error()
		return status
	}
	if sf.PID <= 0 {
		status.Error = "status file has no pid"
		return status
	}
	status.PID = sf.PID

	proc, err := process.NewProcess(sf.PID)
	if err != nil {
		// gopsutil reports a vanished pid as an error
		return status
	}

	running, err := proc.IsRunning()
	if err != nil || !running {
		return status
	}
	status.Running = true

	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		status.RSSBytes = mem.RSS
	}
	if created, err := proc.CreateTime(); err == nil {
		status.StartedAt = time.UnixMilli(created)
	}

	return status
}
