package tool

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/snow-ai/snow/internal/logging"
)

// sshPool keeps one SFTP session per user@host:port, opened lazily and
// reused across reads.
type sshPool struct {
	mu       sync.Mutex
	sessions map[string]*sshSession
}

type sshSession struct {
	client *ssh.Client
	sftp   *sftp.Client
}

func newSSHPool() *sshPool {
	return &sshPool{sessions: make(map[string]*sshSession)}
}

// ReadFile reads a remote path of the form ssh://user@host:port/path.
func (p *sshPool) ReadFile(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "ssh" || u.Host == "" {
		return nil, fmt.Errorf("invalid ssh path: %s", rawURL)
	}

	sess, err := p.session(u)
	if err != nil {
		return nil, err
	}

	f, err := sess.sftp.Open(u.Path)
	if err != nil {
		// The session may have gone stale; drop it so the next read redials.
		p.evict(u)
		return nil, fmt.Errorf("sftp open %s: %w", u.Path, err)
	}
	defer f.Close()

	return io.ReadAll(io.LimitReader(f, MaxReadBytes+1))
}

func (p *sshPool) key(u *url.URL) string {
	return u.User.Username() + "@" + u.Host
}

func (p *sshPool) session(u *url.URL) (*sshSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := p.key(u)
	if sess, ok := p.sessions[key]; ok {
		return sess, nil
	}

	user := u.User.Username()
	if user == "" {
		user = os.Getenv("USER")
	}
	host := u.Host
	if u.Port() == "" {
		host += ":22"
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            sshAuthMethods(),
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	client, err := ssh.Dial("tcp", host, cfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", host, err)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("sftp session: %w", err)
	}

	sess := &sshSession{client: client, sftp: sftpClient}
	p.sessions[key] = sess
	return sess, nil
}

func (p *sshPool) evict(u *url.URL) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.key(u)
	if sess, ok := p.sessions[key]; ok {
		sess.sftp.Close()
		sess.client.Close()
		delete(p.sessions, key)
	}
}

// Close closes every pooled session.
func (p *sshPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, sess := range p.sessions {
		sess.sftp.Close()
		sess.client.Close()
		delete(p.sessions, key)
	}
}

// sshAuthMethods builds auth from the default key files; password auth is
// out of scope (the runtime does not manage credentials).
func sshAuthMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	home, err := os.UserHomeDir()
	if err != nil {
		return methods
	}
	for _, name := range []string{"id_ed25519", "id_rsa"} {
		data, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			logging.Debug().Str("key", name).Err(err).Msg("unusable ssh key")
			continue
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	return methods
}
