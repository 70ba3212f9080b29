package sftp

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/retry"
)

type testServer struct {
	listener   net.Listener
	port       int
	knownHosts string
	wg         sync.WaitGroup
}

// startServer runs an SSH server exposing the sftp subsystem over the local
// filesystem and accepting only the public key of clientKey.
func startServer(t *testing.T, clientKey ssh.PublicKey) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(c ssh.ConnMetadata, k ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(k.Marshal(), clientKey.Marshal()) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key for %q", c.User())
		},
	}
	cfg.AddHostKey(hostSigner)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &testServer{listener: l, port: l.Addr().(*net.TCPAddr).Port}

	line := fmt.Sprintf("[127.0.0.1]:%d %s\n", s.port, strings.TrimSpace(string(ssh.MarshalAuthorizedKey(hostSigner.PublicKey()))))
	s.knownHosts = filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(s.knownHosts, []byte(line), 0o600))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handle(conn, cfg)
			}()
		}
	}()
	t.Cleanup(func() {
		_ = l.Close()
		s.wg.Wait()
	})
	return s
}

func (s *testServer) handle(conn net.Conn, cfg *ssh.ServerConfig) {
	defer conn.Close()
	sc, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			continue
		}
		go func(ch ssh.Channel, in <-chan *ssh.Request) {
			defer ch.Close()
			for req := range in {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				_ = req.Reply(ok, nil)
				if !ok {
					continue
				}
				srv, err := sftp.NewServer(ch)
				if err != nil {
					return
				}
				_ = srv.Serve()
				return
			}
		}(ch, requests)
	}
}

// writeClientKey stores a fresh ed25519 key in OpenSSH PEM form.
func writeClientKey(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(p, pem.EncodeToMemory(block), 0o600))
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return p, sshPub
}

func testOptions(knownHosts string) destination.Options {
	return destination.Options{
		SFTPConnectTimeout: 2 * time.Second,
		SFTPIOTimeout:      5 * time.Second,
		SFTPKnownHosts:     knownHosts,
		Retry:              retry.Options{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}
}

func newBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	keyPath, pub := writeClientKey(t)
	srv := startServer(t, pub)
	root := t.TempDir()
	b, err := New(model.SFTPConfig{
		Hostname:    "127.0.0.1",
		Port:        srv.port,
		Username:    "backup",
		KeyFilename: keyPath,
		Directory:   root,
	}, testOptions(srv.knownHosts))
	require.NoError(t, err)
	return b, root
}

func TestRoundTrip(t *testing.T) {
	b, root := newBackend(t)
	payload := make([]byte, 3*destination.ChunkSize+123)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	require.NoError(t, b.Backup(context.Background(), bytes.NewReader(payload), "alice", "x.tar"))

	onDisk, err := os.ReadFile(filepath.Join(root, "alice", "x.tar"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, onDisk))

	rc, err := b.Restore(context.Background(), "alice", "x.tar")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.True(t, bytes.Equal(payload, got))
}

type brokenReader struct{ sent bool }

func (r *brokenReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("client went away")
}

func TestBackup_FailureLeavesNoArtifact(t *testing.T) {
	b, root := newBackend(t)

	err := b.Backup(context.Background(), &brokenReader{}, "alice", "x.tar")
	require.ErrorIs(t, err, destination.ErrTransfer)

	entries, err := os.ReadDir(filepath.Join(root, "alice"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBackup_ReplacesExisting(t *testing.T) {
	b, root := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Backup(ctx, strings.NewReader("first"), "alice", "x.tar"))
	require.NoError(t, b.Backup(ctx, strings.NewReader("second"), "alice", "x.tar"))

	onDisk, err := os.ReadFile(filepath.Join(root, "alice", "x.tar"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(onDisk))
}

func TestBackup_RenameFailureKeepsTarget(t *testing.T) {
	b, root := newBackend(t)
	target := filepath.Join(root, "alice", "x.tar")
	require.NoError(t, os.MkdirAll(target, 0o755))

	err := b.Backup(context.Background(), strings.NewReader("data"), "alice", "x.tar")
	require.ErrorIs(t, err, destination.ErrTransfer)

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	entries, err := os.ReadDir(filepath.Join(root, "alice"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPosixRenameUnsupported(t *testing.T) {
	assert.True(t, posixRenameUnsupported(&sftp.StatusError{Code: uint32(sftp.ErrSSHFxOpUnsupported)}))
	assert.True(t, posixRenameUnsupported(fmt.Errorf("rename: %w", &sftp.StatusError{Code: uint32(sftp.ErrSSHFxOpUnsupported)})))
	assert.False(t, posixRenameUnsupported(&sftp.StatusError{Code: uint32(sftp.ErrSSHFxFailure)}))
	assert.False(t, posixRenameUnsupported(os.ErrPermission))
	assert.False(t, posixRenameUnsupported(errors.New("connection lost")))
}

func TestRestore_Missing(t *testing.T) {
	b, _ := newBackend(t)
	rc, err := b.Restore(context.Background(), "alice", "nope.tar")
	assert.Nil(t, rc)
	require.ErrorIs(t, err, destination.ErrArtifactNotFound)
}

func TestDelete(t *testing.T) {
	b, root := newBackend(t)
	require.NoError(t, b.Backup(context.Background(), strings.NewReader("x"), "alice", "x.tar"))
	require.NoError(t, b.Delete(context.Background(), "alice", "x.tar"))

	_, err := os.Stat(filepath.Join(root, "alice", "x.tar"))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, b.Delete(context.Background(), "alice", "x.tar"))
}

func TestUnreachableHost(t *testing.T) {
	keyPath, _ := writeClientKey(t)
	b, err := New(model.SFTPConfig{
		Hostname: "127.0.0.1", Port: 1, Username: "backup", KeyFilename: keyPath, Directory: "/srv",
	}, testOptions(""))
	require.NoError(t, err)

	err = b.Backup(context.Background(), strings.NewReader("x"), "alice", "x.tar")
	require.ErrorIs(t, err, destination.ErrTransfer)
}

func TestHostKeyMismatch(t *testing.T) {
	keyPath, pub := writeClientKey(t)
	srv := startServer(t, pub)

	other := startServer(t, pub)
	b, err := New(model.SFTPConfig{
		Hostname: "127.0.0.1", Port: srv.port, Username: "backup", KeyFilename: keyPath, Directory: t.TempDir(),
	}, testOptions(other.knownHosts))
	require.NoError(t, err)

	err = b.Backup(context.Background(), strings.NewReader("x"), "alice", "x.tar")
	require.ErrorIs(t, err, destination.ErrTransfer)
}

func TestMissingKeyFile(t *testing.T) {
	b, err := New(model.SFTPConfig{
		Hostname: "127.0.0.1", Port: 22, Username: "backup", KeyFilename: "/nonexistent/key", Directory: "/srv",
	}, testOptions(""))
	require.NoError(t, err)

	_, err = b.Restore(context.Background(), "alice", "x.tar")
	require.ErrorIs(t, err, destination.ErrTransfer)
}
