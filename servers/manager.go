package servers

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"relay/interfaces"
)

// Manager holds and manages all the servers.
type Manager struct {
	servers []Server
	log     interfaces.Logger
}

// NewManager creates a new server manager.
func NewManager(log interfaces.Logger) *Manager {
	return &Manager{log: log}
}

// AddServer adds a new server to the manager.
func (m *Manager) AddServer(server Server) {
	m.servers = append(m.servers, server)
}

// StartAll starts all registered servers in order.
// 途中で失敗した場合は、起動済みのサーバーを逆順に停止してからエラーを返します。
func (m *Manager) StartAll() error {
	for i, s := range m.servers {
		m.log.Info("Starting server", "name", s.Name())
		if err := s.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				m.stop(m.servers[j])
			}
			return fmt.Errorf("start %s: %w", s.Name(), err)
		}
		m.log.Info("Server started successfully", "name", s.Name())
	}
	return nil
}

// StopAll stops all registered servers in reverse start order.
func (m *Manager) StopAll() {
	for i := len(m.servers) - 1; i >= 0; i-- {
		m.stop(m.servers[i])
	}
}

func (m *Manager) stop(s Server) {
	m.log.Info("Stopping server", "name", s.Name())
	if err := s.Stop(); err != nil {
		m.log.Error("Failed to stop server", "name", s.Name(), "error", err)
		return
	}
	m.log.Info("Server stopped successfully", "name", s.Name())
}

// --- Concrete Server Implementations ---

// GenericServer runs an external process as a managed server.
type GenericServer struct {
	name    string
	command string
	args    []string
	dir     string
	env     []string
	output  io.Writer

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// NewGenericServer creates a new generic server.
func NewGenericServer(name, command string, args []string, dir string) *GenericServer {
	return &GenericServer{
		name:    name,
		command: command,
		args:    args,
		dir:     dir,
		output:  os.Stderr,
	}
}

// WithEnv adds KEY=VALUE pairs to the process environment.
func (s *GenericServer) WithEnv(env ...string) *GenericServer {
	s.env = append(s.env, env...)
	return s
}

// WithOutput redirects the process stdout and stderr.
func (s *GenericServer) WithOutput(w io.Writer) *GenericServer {
	s.output = w
	return s
}

// Name returns the server's name.
func (s *GenericServer) Name() string {
	return s.name
}

// Start starts the process. It does not wait for it to become ready.
func (s *GenericServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return nil
	}

	cmd := exec.Command(s.command, s.args...)
	if s.dir != "" {
		cmd.Dir = s.dir
	}
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}
	cmd.Stdout = s.output
	cmd.Stderr = s.output
	if err := cmd.Start(); err != nil {
		return err
	}

	s.cmd = cmd
	s.err = nil
	s.done = make(chan struct{})
	go s.wait(cmd, s.done)
	return nil
}

func (s *GenericServer) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	s.mu.Lock()
	s.err = err
	if s.cmd == cmd {
		s.cmd = nil
	}
	s.mu.Unlock()
	close(done)
}

// Alive reports whether the process is still running.
func (s *GenericServer) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// Err returns the exit error of the last process, if any.
func (s *GenericServer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop kills the process and waits for it to exit.
func (s *GenericServer) Stop() error {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("%s did not exit", s.name)
	}
	return nil
}
