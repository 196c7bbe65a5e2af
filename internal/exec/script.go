package exec

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"jobrunner/internal/model"
)

const maxTailLines = 100

// ScriptInput is the input to RunScript (spec.md §4.4).
type ScriptInput struct {
	Script    string
	DBPath    string
	JobID     string
	RunID     int64
	TimeoutMs *int64
}

// CommandResolver resolves a script path to the command and arguments the
// host OS should launch, per spec.md §4.4 and the "Dynamic dispatch by
// script extension" redesign note in §9: a pure data-only function,
// trivial to unit test, rather than a polymorphic class hierarchy.
type CommandResolver func(script string) (cmd string, args []string)

// DefaultResolveCommand implements the extension table in spec.md §4.4.
func DefaultResolveCommand(script string) (string, []string) {
	switch strings.ToLower(filepath.Ext(script)) {
	case ".ps1":
		return "powershell", []string{"-NoProfile", "-File", script}
	case ".cmd", ".bat":
		return "cmd", []string{"/C", script}
	case ".py":
		return "python3", []string{script}
	default:
		return "node", []string{script}
	}
}

var resultMarkerRe = regexp.MustCompile(`^JR_RESULT:(.+)$`)

type resultMarker struct {
	Tokens *int64 `json:"tokens"`
	Meta   string `json:"meta"`
}

// Script runs a job's script as a child process per spec.md §4.4.
type Script struct {
	Resolve CommandResolver
	Log     *zap.Logger
}

func NewScript(log *zap.Logger) *Script {
	return &Script{Resolve: DefaultResolveCommand, Log: log}
}

// Run spawns the child process, captures bounded tails of stdout/stderr,
// scans stdout for JR_RESULT markers, and enforces the timeout via
// graceful-then-forced termination.
func (s *Script) Run(ctx context.Context, in ScriptInput) Result {
	resolve := s.Resolve
	if resolve == nil {
		resolve = DefaultResolveCommand
	}
	command, args := resolve(in.Script)

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = append(cmd.Env, os.Environ()...)
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("JR_DB_PATH=%s", in.DBPath),
		fmt.Sprintf("JR_JOB_ID=%s", in.JobID),
		fmt.Sprintf("JR_RUN_ID=%d", in.RunID),
	)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.WaitDelay = time.Second

	stdoutRing := newLineRing(maxTailLines)
	stderrRing := newLineRing(maxTailLines)

	var mu sync.Mutex
	var lastMarker *resultMarker

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		captureStream(stdoutR, stdoutRing, func(line string) {
			if m := resultMarkerRe.FindStringSubmatch(line); m != nil {
				var rm resultMarker
				if err := json.Unmarshal([]byte(m[1]), &rm); err == nil {
					mu.Lock()
					lastMarker = &rm
					mu.Unlock()
				}
			}
		})
	}()
	go func() {
		defer wg.Done()
		captureStream(stderrR, stderrRing, nil)
	}()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return Result{Status: model.RunError, Error: err.Error(), DurationMs: time.Since(start).Milliseconds()}
	}

	var timedOut atomic.Bool
	var timer, killTimer *time.Timer
	if in.TimeoutMs != nil {
		ms := *in.TimeoutMs
		timer = time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
			timedOut.Store(true)
			if cmd.Process != nil {
				_ = cmd.Process.Signal(syscall.SIGTERM)
			}
			killTimer = time.AfterFunc(5*time.Second, func() {
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
			})
		})
	}

	waitErr := cmd.Wait()
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		waitErr = nil
	}
	stdoutW.Close()
	stderrW.Close()
	wg.Wait()
	duration := time.Since(start)
	if timer != nil {
		timer.Stop()
	}
	if killTimer != nil {
		killTimer.Stop()
	}

	stdoutTail := stdoutRing.Tail()
	stderrTail := stderrRing.Tail()

	mu.Lock()
	marker := lastMarker
	mu.Unlock()

	if timedOut.Load() {
		return Result{
			Status:     model.RunTimeout,
			Error:      fmt.Sprintf("Job timed out after %dms", *in.TimeoutMs),
			StdoutTail: stdoutTail,
			StderrTail: stderrTail,
			DurationMs: duration.Milliseconds(),
		}
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			errMsg := stderrTail
			if errMsg == "" {
				errMsg = fmt.Sprintf("Exit code %d", code)
			}
			return Result{
				Status:     model.RunError,
				ExitCode:   &code,
				Error:      errMsg,
				StdoutTail: stdoutTail,
				StderrTail: stderrTail,
				DurationMs: duration.Milliseconds(),
			}
		}
		return Result{
			Status:     model.RunError,
			Error:      waitErr.Error(),
			StdoutTail: stdoutTail,
			StderrTail: stderrTail,
			DurationMs: duration.Milliseconds(),
		}
	}

	zero := 0
	res := Result{
		Status:     model.RunOK,
		ExitCode:   &zero,
		StdoutTail: stdoutTail,
		StderrTail: stderrTail,
		DurationMs: duration.Milliseconds(),
	}
	if marker != nil {
		res.Tokens = marker.Tokens
		res.ResultMeta = marker.Meta
	}
	return res
}

func captureStream(r io.Reader, ring *lineRing, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		ring.WriteLine(line)
		if onLine != nil {
			onLine(line)
		}
	}
}

