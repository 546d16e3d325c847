package harness

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ralphmem/ralphmem/internal/eventbus"
)

// Agent is one running harness process, scoped to a single task.
type Agent struct {
	ID          string
	TaskID      int64
	ProjectPath string
	Bridge      *Bridge
	Process     *os.Process
	cmd         *exec.Cmd
	StartedAt   time.Time
}

// Spawner manages external coding-agent processes, one per in-flight
// task, following internal/aider/spawner.go's lifecycle shape.
type Spawner struct {
	bus    *eventbus.Server
	config Config
	agents map[int64]*Agent
	mu     sync.RWMutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSpawner starts a spawner that publishes crash notifications over
// bus and launches processes per config.
func NewSpawner(bus *eventbus.Server, config Config) *Spawner {
	s := &Spawner{
		bus:    bus,
		config: config,
		agents: make(map[int64]*Agent),
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.monitorAgents()
	return s
}

// SpawnAgent launches the configured agent CLI against projectPath with
// prompt as its single iteration instruction.
func (s *Spawner) SpawnAgent(taskID int64, projectPath, prompt string) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[taskID]; exists {
		return nil, fmt.Errorf("task %d already has a running agent", taskID)
	}
	if projectPath == "" {
		return nil, fmt.Errorf("project path is required")
	}
	if _, err := os.Stat(projectPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("project path does not exist: %s", projectPath)
	}

	cmd := exec.Command(s.config.Command, s.config.ToArgs(prompt)...)
	cmd.Dir = projectPath
	if len(s.config.Env) > 0 {
		cmd.Env = append(os.Environ(), s.config.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start harness agent: %w", err)
	}

	agentID := fmt.Sprintf("ralph-%s", uuid.New().String()[:8])
	log.Printf("[HARNESS] started agent %s (pid %d) for task %d", agentID, cmd.Process.Pid, taskID)

	bridge := NewBridge(taskID, s.bus, stdout, stderr)
	bridge.Start()

	agent := &Agent{
		ID:          agentID,
		TaskID:      taskID,
		ProjectPath: projectPath,
		Bridge:      bridge,
		Process:     cmd.Process,
		cmd:         cmd,
		StartedAt:   time.Now(),
	}
	s.agents[taskID] = agent
	return agent, nil
}

// Wait blocks until the agent's process exits or idleTimeout elapses
// (0 disables the timeout), returning the exit error if any.
func (s *Spawner) Wait(agent *Agent) error {
	done := make(chan error, 1)
	go func() { done <- agent.cmd.Wait() }()

	if s.config.IdleTimeout <= 0 {
		return <-done
	}

	select {
	case err := <-done:
		return err
	case <-time.After(time.Duration(s.config.IdleTimeout) * time.Second):
		log.Printf("[HARNESS] task %d's agent exceeded idle timeout, killing", agent.TaskID)
		agent.Bridge.Stop()
		_ = agent.Process.Kill()
		<-done
		return fmt.Errorf("agent for task %d timed out after %ds", agent.TaskID, s.config.IdleTimeout)
	}
}

// StopAgent gracefully terminates a running agent: SIGTERM, then SIGKILL
// after a grace period.
func (s *Spawner) StopAgent(taskID int64) error {
	s.mu.Lock()
	agent, exists := s.agents[taskID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("no running agent for task %d", taskID)
	}
	delete(s.agents, taskID)
	s.mu.Unlock()

	agent.Bridge.Stop()

	done := make(chan error, 1)
	go func() { done <- agent.cmd.Wait() }()

	if err := agent.Process.Signal(syscall.SIGTERM); err != nil {
		log.Printf("[HARNESS] failed to send SIGTERM to task %d's agent: %v", taskID, err)
	}

	select {
	case <-done:
		log.Printf("[HARNESS] task %d's agent stopped", taskID)
		return nil
	case <-time.After(5 * time.Second):
		log.Printf("[HARNESS] task %d's agent did not respond to SIGTERM, force killing", taskID)
		if err := agent.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill agent for task %d: %w", taskID, err)
		}
		<-done
		return nil
	}
}

// Release removes a finished agent from tracking without signaling it,
// used once Wait returns normally.
func (s *Spawner) Release(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, taskID)
}

// GetAgent retrieves the running agent for a task, if any.
func (s *Spawner) GetAgent(taskID int64) *Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agents[taskID]
}

// StopAll gracefully stops every running agent, used on shutdown.
func (s *Spawner) StopAll() {
	close(s.stopCh)

	s.mu.RLock()
	taskIDs := make([]int64, 0, len(s.agents))
	for id := range s.agents {
		taskIDs = append(taskIDs, id)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range taskIDs {
		wg.Add(1)
		go func(taskID int64) {
			defer wg.Done()
			if err := s.StopAgent(taskID); err != nil {
				log.Printf("[HARNESS] error stopping task %d's agent: %v", taskID, err)
			}
		}(id)
	}
	wg.Wait()
	s.wg.Wait()
}

func (s *Spawner) monitorAgents() {
	defer s.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkAgents()
		}
	}
}

func (s *Spawner) checkAgents() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for taskID, agent := range s.agents {
		if !isProcessRunning(agent.Process) {
			log.Printf("[HARNESS] agent for task %d (pid %d) crashed or exited unexpectedly", taskID, agent.Process.Pid)
			agent.Bridge.Stop()
			delete(s.agents, taskID)
			s.publishCrash(taskID, agent)
		}
	}
}

func isProcessRunning(process *os.Process) bool {
	return process.Signal(syscall.Signal(0)) == nil
}

func (s *Spawner) publishCrash(taskID int64, agent *Agent) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(statusSubject(taskID), StatusUpdate{
		TaskID:    taskID,
		Status:    "crashed",
		Detail:    fmt.Sprintf("pid %d, uptime %s", agent.Process.Pid, time.Since(agent.StartedAt)),
		Timestamp: time.Now(),
	})
}
