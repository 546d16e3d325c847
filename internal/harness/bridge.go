package harness

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ralphmem/ralphmem/internal/extractor"
	"github.com/ralphmem/ralphmem/internal/eventbus"
)

// streamEvent is one line of a harness agent's structured stdout, loosely
// modeled on Claude Code's --output-format stream-json shape. A line that
// fails to parse as one of these is treated as plain assistant text,
// so a harness command that only prints free text still works.
type streamEvent struct {
	Type       string         `json:"type"`
	Text       string         `json:"text,omitempty"`
	Name       string         `json:"name,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Subtype    string         `json:"subtype,omitempty"`
	Result     string         `json:"result,omitempty"`
	DurationMs *int64         `json:"duration_ms,omitempty"`
}

// StatusUpdate is published whenever the bridge's coarse status changes,
// for an external monitor to follow without polling the process table.
type StatusUpdate struct {
	TaskID    int64     `json:"task_id"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

func outputSubject(taskID int64) string { return fmt.Sprintf("ralph.harness.%d.output", taskID) }
func statusSubject(taskID int64) string { return fmt.Sprintf("ralph.harness.%d.status", taskID) }

// Bridge reads an agent process's stdout/stderr, accumulates it into an
// extractor.RawOutput, and mirrors raw lines and status changes onto the
// event bus for external observers.
type Bridge struct {
	taskID int64
	bus    *eventbus.Server

	stdout io.ReadCloser
	stderr io.ReadCloser

	mu     sync.Mutex
	status string
	raw    extractor.RawOutput

	done   chan struct{}
	stopCh chan struct{}
}

// NewBridge constructs a bridge for one running agent process.
func NewBridge(taskID int64, bus *eventbus.Server, stdout, stderr io.ReadCloser) *Bridge {
	return &Bridge{
		taskID: taskID,
		bus:    bus,
		stdout: stdout,
		stderr: stderr,
		status: "starting",
		done:   make(chan struct{}),
		stopCh: make(chan struct{}),
	}
}

// Start launches the stdout/stderr reader goroutines.
func (b *Bridge) Start() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.readStdout()
	}()
	go func() {
		defer wg.Done()
		b.readStderr()
	}()
	b.publishStatus("running", "agent started")

	go func() {
		wg.Wait()
		close(b.done)
	}()
}

// Stop signals both reader goroutines to stop early, used when the
// spawner force-kills a stuck process.
func (b *Bridge) Stop() {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
}

// Done returns a channel closed once both stdout and stderr have reached
// EOF, i.e. the process has finished emitting output.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Collected returns the RawOutput accumulated so far. Safe to call after
// Done() closes, or while the process is still running.
func (b *Bridge) Collected() extractor.RawOutput {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raw
}

func (b *Bridge) readStdout() {
	scanner := bufio.NewScanner(b.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-b.stopCh:
			return
		default:
		}
		b.handleLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[HARNESS] stdout scanner error for task %d: %v", b.taskID, err)
	}
	b.publishStatus("stdout_closed", "agent stdout reached EOF")
}

func (b *Bridge) readStderr() {
	scanner := bufio.NewScanner(b.stderr)
	for scanner.Scan() {
		select {
		case <-b.stopCh:
			return
		default:
		}
		line := scanner.Text()
		b.publishOutput("stderr", line)

		lower := strings.ToLower(line)
		if strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") {
			b.mu.Lock()
			b.raw.RateLimited = true
			b.mu.Unlock()
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[HARNESS] stderr scanner error for task %d: %v", b.taskID, err)
	}
}

func (b *Bridge) handleLine(line string) {
	b.publishOutput("stdout", line)

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	var event streamEvent
	if err := json.Unmarshal([]byte(trimmed), &event); err != nil || event.Type == "" {
		// Not structured output: treat the whole line as assistant text,
		// so a plain-text driver still produces something extractable.
		b.mu.Lock()
		b.raw.AssistantText = append(b.raw.AssistantText, line)
		b.mu.Unlock()
		return
	}

	switch event.Type {
	case "assistant":
		b.mu.Lock()
		b.raw.AssistantText = append(b.raw.AssistantText, event.Text)
		b.mu.Unlock()
		b.publishStatus("working", "assistant output")

	case "tool_use":
		b.mu.Lock()
		b.raw.ToolUses = append(b.raw.ToolUses, extractor.ToolUseEvent{Name: event.Name, Input: event.Input})
		b.mu.Unlock()
		b.publishStatus("working", fmt.Sprintf("tool use: %s", event.Name))

	case "result":
		b.mu.Lock()
		b.raw.Result = &extractor.ResultEvent{
			Subtype:    event.Subtype,
			ResultText: event.Result,
			DurationMs: event.DurationMs,
		}
		if event.Subtype == "error_rate_limited" {
			b.raw.RateLimited = true
		}
		b.mu.Unlock()
		b.publishStatus("result", event.Subtype)

	case "timeout":
		b.mu.Lock()
		b.raw.TimedOut = true
		b.mu.Unlock()
		b.publishStatus("timeout", "agent reported a timeout")

	default:
		// Unrecognized structured event, ignored rather than misfiled as
		// assistant text.
	}
}

func (b *Bridge) publishStatus(status, detail string) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()

	if b.bus == nil {
		return
	}
	_ = b.bus.Publish(statusSubject(b.taskID), StatusUpdate{
		TaskID:    b.taskID,
		Status:    status,
		Detail:    detail,
		Timestamp: time.Now(),
	})
}

func (b *Bridge) publishOutput(stream, line string) {
	if b.bus == nil {
		return
	}
	_ = b.bus.Publish(outputSubject(b.taskID), map[string]any{
		"task_id": b.taskID,
		"stream":  stream,
		"line":    line,
	})
}

// Status returns the bridge's current coarse status, thread-safe.
func (b *Bridge) Status() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}
