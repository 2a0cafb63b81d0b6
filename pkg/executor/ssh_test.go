package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolbridge/pkg/catalog"
)

func TestSSHExecutor_Address(t *testing.T) {
	exec := NewSSHExecutor(&catalog.ServerProfile{Hostname: "example.com"})
	assert.Equal(t, "example.com:22", exec.address())

	exec = NewSSHExecutor(&catalog.ServerProfile{Hostname: "example.com", Port: 2222})
	assert.Equal(t, "example.com:2222", exec.address())
}

func TestSSHExecutor_PasswordAuth(t *testing.T) {
	exec := NewSSHExecutor(&catalog.ServerProfile{
		Name:     "web",
		Hostname: "example.com",
		Username: "deploy",
		AuthType: catalog.AuthPassword,
		Credentials: catalog.Credentials{
			Password: "hunter2",
		},
	})

	auth, err := exec.authMethods()

	require.NoError(t, err)
	assert.Len(t, auth, 1)
}

func TestSSHExecutor_DefaultAuthIsPassword(t *testing.T) {
	exec := NewSSHExecutor(&catalog.ServerProfile{
		Name:     "web",
		Hostname: "example.com",
		Username: "deploy",
	})

	auth, err := exec.authMethods()

	require.NoError(t, err)
	assert.Len(t, auth, 1)
}

func TestSSHExecutor_PrivateKeyAuthRequiresKey(t *testing.T) {
	exec := NewSSHExecutor(&catalog.ServerProfile{
		Name:     "web",
		Hostname: "example.com",
		Username: "deploy",
		AuthType: catalog.AuthPrivateKey,
	})

	_, err := exec.authMethods()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key is required")
}

func TestSSHExecutor_InvalidPrivateKey(t *testing.T) {
	exec := NewSSHExecutor(&catalog.ServerProfile{
		Name:     "web",
		Hostname: "example.com",
		Username: "deploy",
		AuthType: catalog.AuthPrivateKey,
		Credentials: catalog.Credentials{
			PrivateKey: "not a key",
		},
	})

	_, err := exec.authMethods()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse private key")
}

func TestSSHExecutor_ClientConfigTimeoutFromContext(t *testing.T) {
	exec := NewSSHExecutor(&catalog.ServerProfile{
		Name:     "web",
		Hostname: "example.com",
		Username: "deploy",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg, err := exec.clientConfig(ctx)

	require.NoError(t, err)
	assert.Equal(t, "deploy", cfg.User)
	assert.Greater(t, cfg.Timeout, 50*time.Second)
}

func TestSSHExecutor_ConnectionRefusedIsTransportError(t *testing.T) {
	// Port 1 on localhost is almost certainly closed; the dial must fail
	// before any channel activity, as a transport error rather than a
	// synthesized non-zero exit.
	exec := NewSSHExecutor(&catalog.ServerProfile{
		Name:     "dead",
		Hostname: "127.0.0.1",
		Port:     1,
		Username: "deploy",
		Credentials: catalog.Credentials{
			Password: "x",
		},
	})

	_, err := exec.Execute(context.Background(), "true", 2*time.Second)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestSSHExecutor_KnownHostsPathMissing(t *testing.T) {
	exec := NewSSHExecutor(&catalog.ServerProfile{
		Name:           "web",
		Hostname:       "example.com",
		Username:       "deploy",
		KnownHostsPath: "/nonexistent/known_hosts",
	})

	_, err := exec.clientConfig(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "known hosts")
}
