// Package shutdown centralizes fatal-exit handling: structured crash
// dumps plus a machine-readable abort request, written under the DB
// path so operators find them next to the data.
package shutdown

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"chatsync/pkg/logger"
)

type exitRequest struct {
	Time      string `json:"time"`
	Reason    string `json:"reason"`
	Cmd       string `json:"cmd"`
	CrashPath string `json:"crash_path,omitempty"`
}

// Abort logs a fatal startup error, writes diagnostics, waits so logs
// can flush, and exits with status 2.
func Abort(contextMsg string, err error, dbPath string, delaySeconds ...int) {
	delay := 10
	if len(delaySeconds) > 0 && delaySeconds[0] >= 0 {
		delay = delaySeconds[0]
	}
	logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	dumpPath, reqPath, derr := AbortWithDiagnostics(dbPath, contextMsg, err)
	if derr != nil {
		logger.Error("abort_with_diagnostics_failed", "error", derr)
		fmt.Fprintf(os.Stderr, "FAILED TO WRITE CRASH DUMP: %v\n", derr)
	} else {
		logger.Info("wrote_crash_dump", "path", dumpPath, "request", reqPath)
		fmt.Fprintf(os.Stderr, "CRASH DUMP WRITTEN: %s\n", dumpPath)
	}
	for i := delay; i > 0; i-- {
		logger.Info("exiting_in_seconds", "seconds", i)
		time.Sleep(1 * time.Second)
	}
	logger.Sync()
	os.Exit(2)
}

// AbortWithDiagnostics writes a crash dump with all goroutine stacks and
// an abort request file referencing it. Returns both paths.
func AbortWithDiagnostics(dbPath, reason string, err error) (string, string, error) {
	crashDir := "./crash"
	abortDir := "./abort"
	if dbPath != "" {
		crashDir = filepath.Join(dbPath, "state", "crash")
		abortDir = filepath.Join(dbPath, "state", "abort")
	}
	if e := os.MkdirAll(crashDir, 0o700); e != nil {
		return "", "", fmt.Errorf("failed to create crash dir: %w", e)
	}
	if e := os.MkdirAll(abortDir, 0o700); e != nil {
		return "", "", fmt.Errorf("failed to create abort dir: %w", e)
	}

	ts := time.Now().UnixNano()
	dumpPath := filepath.Join(crashDir, fmt.Sprintf("crash-%d.log", ts))

	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	body := fmt.Sprintf("time: %s\nreason: %s\nerror: %v\n\n== goroutines ==\n%s",
		time.Now().UTC().Format(time.RFC3339Nano), reason, err, buf[:n])
	if werr := os.WriteFile(dumpPath, []byte(body), 0o600); werr != nil {
		return "", "", fmt.Errorf("failed to write crash dump: %w", werr)
	}

	req := exitRequest{
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		Reason:    reason,
		Cmd:       filepath.Base(os.Args[0]),
		CrashPath: dumpPath,
	}
	reqPath := filepath.Join(abortDir, fmt.Sprintf("abort-%d.json", ts))
	rb, _ := json.MarshalIndent(req, "", "  ")
	if werr := os.WriteFile(reqPath, rb, 0o600); werr != nil {
		return dumpPath, "", fmt.Errorf("failed to write abort request: %w", werr)
	}
	return dumpPath, reqPath, nil
}
