package sftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Chapsvision-dev/backup-gateway/internal/retry"
)

const defaultPort = 22

// deadlineConn arms a fresh deadline before every read and write so a
// stalled peer cannot block a transfer indefinitely.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Write(b)
}

// hostKeyCallback verifies against a known_hosts file when one is configured.
func hostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		log.Warn().
			Str("action", "sftp_host_key").
			Msg("SFTP_KNOWN_HOSTS not set, accepting any host key")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", knownHostsPath, err)
	}
	return cb, nil
}

func (b *Backend) addr() string {
	port := b.cfg.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(b.cfg.Hostname, strconv.Itoa(port))
}

func (b *Backend) clientConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(b.cfg.KeyFilename)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &ssh.ClientConfig{
		User:            b.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: b.hostKeys,
		Timeout:         b.connectTimeout,
	}, nil
}

// dial opens an SSH client, retrying network timeouts.
func (b *Backend) dial(ctx context.Context) (*ssh.Client, error) {
	cfg, err := b.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := b.addr()

	start := time.Now()
	attempt := 0
	var client *ssh.Client
	err = retry.Do(ctx, b.ro, retry.IsTransient, func(ctx context.Context) error {
		attempt++
		c, err := b.dialOnce(ctx, addr, cfg)
		if err != nil {
			log.Debug().Err(err).Str("action", "sftp_dial").Str("addr", addr).
				Int("attempt", attempt).Msg("attempt failed")
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("action", "sftp_dial").Str("addr", addr).Int("attempts", attempt).
		Dur("elapsed_ms", time.Since(start)).Msg("connected")
	return client, nil
}

func (b *Backend) dialOnce(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: b.connectTimeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	conn := &deadlineConn{Conn: raw, timeout: b.ioTimeout}

	// The handshake runs aside so ctx can abort it by closing the conn.
	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			_ = conn.Close()
			done <- result{nil, err}
			return
		}
		done <- result{ssh.NewClient(c, chans, reqs), nil}
	}()

	select {
	case <-ctx.Done():
		_ = conn.Close()
		if r := <-done; r.client != nil {
			_ = r.client.Close()
		}
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			var keyErr *knownhosts.KeyError
			if errors.As(r.err, &keyErr) {
				return nil, retry.Permanent(fmt.Errorf("host key verification: %w", r.err))
			}
		}
		return r.client, r.err
	}
}
