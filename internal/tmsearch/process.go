package tmsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const stopGracePeriod = 500 * time.Millisecond

// ProcessConfig names the executables behind each stage. Each command is
// split on whitespace; the first field is the program.
type ProcessConfig struct {
	USPTOCommand string
	MGSCommand   string
	CancelFile   string
	Env          []string
}

// ProcessLauncher runs stages as child processes that stream line
// delimited JSON events on stdout.
type ProcessLauncher struct {
	cfg ProcessConfig
}

func NewProcessLauncher(cfg ProcessConfig) *ProcessLauncher {
	return &ProcessLauncher{cfg: cfg}
}

func (l *ProcessLauncher) SignalCancel() error {
	if l.cfg.CancelFile == "" {
		return nil
	}
	return os.WriteFile(l.cfg.CancelFile, []byte("cancel"), 0o644)
}

func (l *ProcessLauncher) ClearCancel() error {
	if l.cfg.CancelFile == "" {
		return nil
	}
	if err := os.Remove(l.cfg.CancelFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (l *ProcessLauncher) Launch(ctx context.Context, stage Stage, req StageRequest) (StageHandle, error) {
	var (
		command string
		args    []string
		env     = append(os.Environ(), l.cfg.Env...)
	)
	switch stage {
	case StageUSPTO:
		if len(req.Terms) == 0 {
			return nil, NewValidationError("uspto stage needs at least one term")
		}
		command = l.cfg.USPTOCommand
		args = []string{"--search_type", "uspto", strings.Join(req.Terms, "\n")}
	case StageMGS:
		if len(req.Tasks) == 0 {
			return nil, NewValidationError("mgs stage needs at least one task")
		}
		payload, err := json.Marshal(req.Tasks)
		if err != nil {
			return nil, fmt.Errorf("encode mgs tasks: %w", err)
		}
		command = l.cfg.MGSCommand
		env = append(env, "MGS_TASKS_JSON="+string(payload))
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s stage command not configured", stage)
	}
	if l.cfg.CancelFile != "" {
		env = append(env, "TMSEARCH_CANCEL_FILE="+l.cfg.CancelFile)
	}

	cmd := exec.Command(fields[0], append(fields[1:], args...)...)
	cmd.Env = env
	setProcessGroup(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s stage: %w", stage, err)
	}
	log.Printf("tmsearch stage_launch stage=%s pid=%d command=%q", stage, cmd.Process.Pid, fields[0])

	h := &processHandle{
		stage:  stage,
		cmd:    cmd,
		events: make(chan Event, 64),
		done:   make(chan int, 1),
		exited: make(chan struct{}),
	}
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		if err := ReadEvents(stdout, stage, h.events); err != nil {
			log.Printf("tmsearch stage_stdout_error stage=%s err=%q", stage, err.Error())
		}
	}()
	go func() {
		defer readers.Done()
		if err := ReadStderr(stderr, stage, h.events); err != nil {
			log.Printf("tmsearch stage_stderr_error stage=%s err=%q", stage, err.Error())
		}
	}()
	go func() {
		readers.Wait()
		close(h.events)
		code := exitCode(cmd.Wait())
		close(h.exited)
		h.done <- code
	}()

	go func() {
		select {
		case <-ctx.Done():
			h.Stop()
		case <-h.exited:
		}
	}()
	return h, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if code := ee.ExitCode(); code >= 0 {
			return code
		}
	}
	return 1
}

type processHandle struct {
	stage    Stage
	cmd      *exec.Cmd
	events   chan Event
	done     chan int
	exited   chan struct{}
	stopOnce sync.Once
}

func (h *processHandle) Stage() Stage { return h.stage }
func (h *processHandle) Events() <-chan Event { return h.events }
func (h *processHandle) Done() <-chan int { return h.done }

// Stop sends SIGTERM and kills the process if it is still alive after a
// short grace period.
func (h *processHandle) Stop() {
	h.stopOnce.Do(func() {
		log.Printf("tmsearch stage_stop stage=%s pid=%d", h.stage, h.cmd.Process.Pid)
		if err := signalStage(h.cmd, syscall.SIGTERM); err != nil {
			return
		}
		t := time.NewTimer(stopGracePeriod)
		defer t.Stop()
		select {
		case <-h.exited:
		case <-t.C:
			log.Printf("tmsearch stage_kill stage=%s pid=%d", h.stage, h.cmd.Process.Pid)
			_ = signalStage(h.cmd, syscall.SIGKILL)
		}
	})
}
