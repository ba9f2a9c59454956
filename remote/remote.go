// Package remote implements the Remote Executor: scoped SSH command
// execution and template upload, serialized process-wide by a single lock
// as required by §5 (no nested acquisition, released on every exit path).
// Grounded on the original handyrep.py test_ssh/push_replica_conf fabric
// usage (env.key_filename/env.user/env.host_string set per call, never
// retained across calls).
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"text/template"
	"time"

	"golang.org/x/crypto/ssh"
)

// Result is the outcome of a remote command or upload.
type Result struct {
	OK       bool
	ExitCode int
	Stdout   string
	Stderr   string
	Message  string
}

// HostKeyCallback lets callers supply known_hosts verification; tests may
// pass ssh.InsecureIgnoreHostKey().
type HostKeyCallback = ssh.HostKeyCallback

// Executor runs commands on remote hosts over SSH, one session at a time
// process-wide.
type Executor struct {
	mu         sync.Mutex
	dialTimeout time.Duration
	hostKeyCB  HostKeyCallback
	dial       func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}

// New returns an Executor. hostKeyCB defaults to ssh.InsecureIgnoreHostKey
// when nil — callers operating against real infrastructure should supply a
// known_hosts-backed callback.
func New(hostKeyCB HostKeyCallback) *Executor {
	if hostKeyCB == nil {
		hostKeyCB = ssh.InsecureIgnoreHostKey()
	}
	return &Executor{
		dialTimeout: 10 * time.Second,
		hostKeyCB:   hostKeyCB,
		dial:        ssh.Dial,
	}
}

func (e *Executor) clientConfig(user, keyPath string) (*ssh.ClientConfig, error) {
	var auths []ssh.AuthMethod
	if keyPath != "" {
		signer, err := loadSigner(keyPath)
		if err != nil {
			return nil, err
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            auths,
		HostKeyCallback: e.hostKeyCB,
		Timeout:         e.dialTimeout,
	}, nil
}

// RunAs acquires the global executor lock, dials host as user, runs cmd,
// and releases the lock on every exit path including a dial or session
// failure.
func (e *Executor) RunAs(ctx context.Context, host, user, keyPath, cmd string) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.clientConfig(user, keyPath)
	if err != nil {
		return Result{OK: false, Message: fmt.Sprintf("ssh key error: %v", err)}
	}
	addr := host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		addr = net.JoinHostPort(host, "22")
	}
	client, err := e.dial("tcp", addr, cfg)
	if err != nil {
		return Result{OK: false, Message: fmt.Sprintf("ssh connect to %s failed: %v", host, err)}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{OK: false, Message: fmt.Sprintf("ssh session to %s failed: %v", host, err)}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return Result{OK: false, Message: "command cancelled: " + ctx.Err().Error()}
	case runErr := <-done:
		if runErr == nil {
			return Result{OK: true, ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}
		}
		exitErr, ok := runErr.(*ssh.ExitError)
		if ok {
			return Result{OK: false, ExitCode: exitErr.ExitStatus(), Stdout: stdout.String(), Stderr: stderr.String(), Message: "remote command exited non-zero"}
		}
		return Result{OK: false, Stdout: stdout.String(), Stderr: stderr.String(), Message: runErr.Error()}
	}
}

// Upload renders tmpl with data and writes it to remotePath on host via SFTP
// substitute: a `cat > file` pipe over the same session primitives, mirroring
// the original's upload_template/sudo-chown sequence without adding a
// dependency the pack never exercises.
func (e *Executor) Upload(ctx context.Context, host, user, keyPath, remotePath string, tmpl *template.Template, data interface{}) Result {
	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, data); err != nil {
		return Result{OK: false, Message: "template render failed: " + err.Error()}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.clientConfig(user, keyPath)
	if err != nil {
		return Result{OK: false, Message: fmt.Sprintf("ssh key error: %v", err)}
	}
	addr := host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		addr = net.JoinHostPort(host, "22")
	}
	client, err := e.dial("tcp", addr, cfg)
	if err != nil {
		return Result{OK: false, Message: fmt.Sprintf("ssh connect to %s failed: %v", host, err)}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{OK: false, Message: fmt.Sprintf("ssh session to %s failed: %v", host, err)}
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return Result{OK: false, Message: "stdin pipe failed: " + err.Error()}
	}
	var stderr bytes.Buffer
	session.Stderr = &stderr

	cmd := fmt.Sprintf("cat > %s", remotePath)
	if err := session.Start(cmd); err != nil {
		return Result{OK: false, Message: "upload start failed: " + err.Error()}
	}
	if _, err := io.Copy(stdin, &rendered); err != nil {
		return Result{OK: false, Message: "upload write failed: " + err.Error()}
	}
	stdin.Close()
	if err := session.Wait(); err != nil {
		return Result{OK: false, Stderr: stderr.String(), Message: "upload failed: " + err.Error()}
	}
	return Result{OK: true, Message: "uploaded to " + remotePath}
}

func loadSigner(keyPath string) (ssh.Signer, error) {
	key, err := readFile(keyPath)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(key)
}
