package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/harun/toolbridge/pkg/catalog"
)

// SSHExecutor runs commands on a remote host. Every call opens a new
// authenticated connection and a single session; nothing is pooled or
// reused, and the connection is released on every exit path.
type SSHExecutor struct {
	profile *catalog.ServerProfile
}

// NewSSHExecutor creates an executor bound to a server profile.
func NewSSHExecutor(profile *catalog.ServerProfile) *SSHExecutor {
	return &SSHExecutor{profile: profile}
}

// Execute runs the command remotely. The timeout covers the whole call from
// connection initiation; when it fires the connection is force-closed and
// ErrTimeout is returned. Connection and auth failures are transport errors,
// distinct from a successful non-zero exit.
func (e *SSHExecutor) Execute(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := e.dial(execCtx)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return Result{}, fmt.Errorf("%w after %v", ErrTimeout, timeout)
		}
		return Result{}, fmt.Errorf("ssh connection failed: %w", err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("ssh session failed: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := make(chan error, 1)
	go func() {
		runErr <- session.Run(command)
	}()

	select {
	case <-execCtx.Done():
		// Unblocks the session goroutine as well.
		client.Close()
		return Result{}, fmt.Errorf("%w after %v", ErrTimeout, timeout)

	case err := <-runErr:
		result := Result{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}

		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitStatus()
			result.Signal = exitErr.Signal()
		case errors.As(err, &missingErr):
			// Remote closed the channel without an exit status.
		default:
			return Result{}, fmt.Errorf("ssh exec failed: %w", err)
		}

		log.Debug().
			Str("host", e.profile.Hostname).
			Int("exit_code", result.ExitCode).
			Msg("Remote command executed")

		return result, nil
	}
}

func (e *SSHExecutor) dial(ctx context.Context) (*ssh.Client, error) {
	config, err := e.clientConfig(ctx)
	if err != nil {
		return nil, err
	}

	address := e.address()
	conn, err := net.DialTimeout("tcp", address, config.Timeout)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (e *SSHExecutor) address() string {
	port := e.profile.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(e.profile.Hostname, strconv.Itoa(port))
}

func (e *SSHExecutor) clientConfig(ctx context.Context) (*ssh.ClientConfig, error) {
	auth, err := e.authMethods()
	if err != nil {
		return nil, err
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if e.profile.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(e.profile.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	return &ssh.ClientConfig{
		User:            e.profile.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func (e *SSHExecutor) authMethods() ([]ssh.AuthMethod, error) {
	creds := e.profile.Credentials

	if e.profile.AuthType == catalog.AuthPrivateKey {
		if creds.PrivateKey == "" {
			return nil, fmt.Errorf("server %q: private key is required", e.profile.Name)
		}

		var signer ssh.Signer
		var err error
		if creds.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(creds.PrivateKey), []byte(creds.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(creds.PrivateKey))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}

		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	return []ssh.AuthMethod{ssh.Password(creds.Password)}, nil
}
