//go:build linux

// Command sandbox-init runs inside the sandbox namespaces. It reads an
// engine.InitRequest from stdin, applies mounts, limits and the seccomp
// filter, then execs the submitted program in its own place.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"codeduel/internal/judge/sandbox/engine"

	"golang.org/x/sys/unix"
)

const defaultPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

func main() {
	if err := run(os.Stdin); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(engine.HelperFailedExitCode)
	}
}

func run(in io.Reader) error {
	var req engine.InitRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if len(req.RunSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	if req.RunSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if !req.EnableNs && (req.Isolation.RootFS != "" || len(req.RunSpec.BindMounts) > 0) {
		return fmt.Errorf("rootfs and bind mounts need namespaces")
	}

	if req.EnableNs {
		if err := enterRoot(req.Isolation.RootFS, req.RunSpec.BindMounts); err != nil {
			return err
		}
	}
	if err := os.Chdir(req.RunSpec.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}
	if err := applyRlimits(req.RunSpec.Limits); err != nil {
		return err
	}
	if err := redirectIO(req.RunSpec.StdinPath, req.RunSpec.StdoutPath, req.RunSpec.StderrPath); err != nil {
		return err
	}

	env := req.RunSpec.Env
	if len(env) == 0 {
		env = []string{defaultPath}
	}
	// LookPath consults PATH, so the environment is swapped before resolving.
	os.Clearenv()
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set env: %w", err)
		}
	}
	cmdPath, err := exec.LookPath(req.RunSpec.Cmd[0])
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}

	// The filter goes last: nothing after it but execve.
	if req.EnableSeccomp && req.Isolation.SeccompProfile != "" {
		if err := applySeccomp(req.Isolation.SeccompProfile); err != nil {
			return err
		}
	}
	return unix.Exec(cmdPath, req.RunSpec.Cmd, env)
}

func redirectIO(stdinPath, stdoutPath, stderrPath string) error {
	streams := []struct {
		name string
		path string
		flag int
		fd   int
	}{
		{name: "stdin", path: stdinPath, flag: os.O_RDONLY, fd: unix.Stdin},
		{name: "stdout", path: stdoutPath, flag: os.O_CREATE | os.O_WRONLY | os.O_TRUNC, fd: unix.Stdout},
		{name: "stderr", path: stderrPath, flag: os.O_CREATE | os.O_WRONLY | os.O_TRUNC, fd: unix.Stderr},
	}
	for _, s := range streams {
		path := s.path
		if path == "" {
			path = os.DevNull
		}
		f, err := os.OpenFile(path, s.flag, 0644)
		if err != nil {
			return fmt.Errorf("open %s: %w", s.name, err)
		}
		err = unix.Dup2(int(f.Fd()), s.fd)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("dup %s: %w", s.name, err)
		}
	}
	return nil
}
