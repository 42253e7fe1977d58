// Package orchestrator manages the lifecycle of the external agent
// stack: spawning process- or container-backed agents, probing them for
// readiness, and tearing everything down after the experiment.
package orchestrator

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/sirupsen/logrus"

	"github.com/probelab/agentprobe/internal/agent"
	"github.com/probelab/agentprobe/internal/config"
	"github.com/probelab/agentprobe/internal/docker"
)

type StartOpts struct {
	Agents  []config.Agent
	EnvFile string
	LogDir  string
	// ReadyTimeout bounds how long Start waits for each agent to accept
	// connections. Zero means 15s.
	ReadyTimeout time.Duration
}

type managedProc struct {
	name    string
	cmd     *exec.Cmd
	logFile *os.File
}

// Stack is the running agent stack. Endpoints are keyed by role.
type Stack struct {
	endpoints  map[agent.Target]string
	procs      []*managedProc
	containers []*docker.AgentContainer
}

// Start brings up every configured agent. Agents that declare a URL are
// treated as externally managed and only probed. Secrets come from the
// env file, never from config or code.
func Start(ctx context.Context, opts *StartOpts) (*Stack, error) {
	readyTimeout := opts.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = 15 * time.Second
	}

	var secrets map[string]string
	if opts.EnvFile != "" {
		var err error
		secrets, err = ParseEnvFile(opts.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("reading secrets env file: %w", err)
		}
	}

	s := &Stack{endpoints: make(map[agent.Target]string)}
	for _, a := range opts.Agents {
		addr, err := s.startAgent(ctx, a, secrets, opts.LogDir, readyTimeout)
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("starting agent %q: %w", a.Name, err)
		}
		s.endpoints[agent.Target(a.Role)] = addr
		logrus.WithFields(logrus.Fields{"agent": a.Name, "endpoint": addr}).Info("agent ready")
	}
	return s, nil
}

func (s *Stack) startAgent(ctx context.Context, a config.Agent, secrets map[string]string, logDir string, readyTimeout time.Duration) (string, error) {
	if a.URL != "" {
		if err := waitForEndpoint(a.URL, readyTimeout); err != nil {
			return "", fmt.Errorf("external agent not reachable: %w", err)
		}
		return a.URL, nil
	}

	port := a.Port
	if port == 0 {
		var err error
		port, err = FindFreePort()
		if err != nil {
			return "", err
		}
	}

	if a.Image != "" {
		c, err := docker.StartAgent(ctx, &docker.AgentOpts{
			Name:  a.Name,
			Image: a.Image,
			Env:   mergeEnvMaps(secrets, a.Env),
			Port:  port,
			GPU:   a.GPU,
		})
		if err != nil {
			return "", err
		}
		s.containers = append(s.containers, c)
	} else {
		proc, err := spawnProc(ctx, a, port, secrets, logDir)
		if err != nil {
			return "", err
		}
		s.procs = append(s.procs, proc)
	}

	if err := waitForPort(port, readyTimeout); err != nil {
		return "", fmt.Errorf("agent did not become ready (log dir %s): %w", logDir, err)
	}
	return fmt.Sprintf("http://localhost:%d%s", port, a.Path), nil
}

func spawnProc(ctx context.Context, a config.Agent, port int, secrets map[string]string, logDir string) (*managedProc, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	logFile, err := os.Create(filepath.Join(logDir, a.Name+".log"))
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", a.Command)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), fmt.Sprintf("PORT=%d", port))
	for k, v := range mergeEnvMaps(secrets, a.Env) {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("spawning %q: %w", a.Command, err)
	}
	return &managedProc{name: a.Name, cmd: cmd, logFile: logFile}, nil
}

// Stop tears the stack down: kills spawned processes, removes
// containers, closes log files. Best effort throughout.
func (s *Stack) Stop() {
	for _, p := range s.procs {
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
			p.cmd.Wait()
		}
		p.logFile.Close()
		logrus.WithField("agent", p.name).Info("agent stopped")
	}
	for _, c := range s.containers {
		if err := c.Stop(); err != nil {
			logrus.WithError(err).Warn("removing agent container")
		}
	}
	s.procs = nil
	s.containers = nil
}

// Endpoints returns the role → URL map for the running stack.
func (s *Stack) Endpoints() map[agent.Target]string {
	out := make(map[agent.Target]string, len(s.endpoints))
	for k, v := range s.endpoints {
		out[k] = v
	}
	return out
}

func FindFreePort() (int, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port, nil
}

func waitForPort(port int, timeout time.Duration) error {
	return waitForAddr(fmt.Sprintf("localhost:%d", port), timeout)
}

func waitForEndpoint(rawURL string, timeout time.Duration) error {
	addr := rawURL
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	return waitForAddr(addr, timeout)
}

func waitForAddr(addr string, timeout time.Duration) error {
	attempts := uint(timeout/(500*time.Millisecond)) + 1
	err := retry.Do(
		func() error {
			conn, err := net.DialTimeout("tcp", addr, time.Second)
			if err != nil {
				return err
			}
			conn.Close()
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%s not ready after %s: %w", addr, timeout, err)
	}
	return nil
}

// ParseEnvFile reads KEY=value lines, tolerating comments, blank lines,
// an "export " prefix, and quoted values.
func ParseEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		s := strings.TrimSpace(line)
		if s == "" || s[0] == '#' {
			continue
		}
		s = strings.TrimPrefix(s, "export ")
		eqIdx := strings.IndexByte(s, '=')
		if eqIdx < 0 {
			continue
		}
		vars[s[:eqIdx]] = stripQuotes(s[eqIdx+1:])
	}
	return vars, nil
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func mergeEnvMaps(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
