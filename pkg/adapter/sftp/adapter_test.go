package sftp

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/wharfd/wharfd/pkg/adapter"
	"github.com/wharfd/wharfd/pkg/authz"
	"github.com/wharfd/wharfd/pkg/models"
)

const (
	testUserID     = "usr-1"
	testListenerID = "lst-1"
)

// fakeStore implements authz.Store and adapter.AuthStore for one user.
type fakeStore struct {
	user       *models.User
	password   string
	subscribed bool
	perm       *models.ListenerPermission
	vps        []*models.VirtualPath
}

func (s *fakeStore) VerifyPassword(_ context.Context, username, cleartext string) (*models.User, error) {
	if s.user == nil || s.user.Username != username || cleartext != s.password {
		return nil, models.ErrInvalidCredentials
	}
	return s.user, nil
}

func (s *fakeStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	if s.user == nil || s.user.Username != username {
		return nil, models.ErrUserNotFound
	}
	return s.user, nil
}

func (s *fakeStore) IsSubscribed(_ context.Context, _, _ string) (bool, error) {
	return s.subscribed, nil
}

func (s *fakeStore) GetListenerPermission(_ context.Context, _, _ string) (*models.ListenerPermission, error) {
	if s.perm == nil {
		return nil, models.ErrPermissionNotFound
	}
	return s.perm, nil
}

func (s *fakeStore) ListVirtualPaths(_ context.Context, _ string) ([]*models.VirtualPath, error) {
	return s.vps, nil
}

type recordingSink struct {
	mu   sync.Mutex
	recs []*models.ActivityRecord
}

func (s *recordingSink) LogActivity(rec *models.ActivityRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.recs))
	for i, r := range s.recs {
		out[i] = r.Action
	}
	return out
}

type fakeRegistry struct {
	mu     sync.Mutex
	active map[string]adapter.SessionInfo
}

func (r *fakeRegistry) RegisterSession(info adapter.SessionInfo, _ func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		r.active = make(map[string]adapter.SessionInfo)
	}
	r.active[info.SessionID] = info
}

func (r *fakeRegistry) UnregisterSession(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

func (r *fakeRegistry) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// The host key is expensive enough to share across tests.
var (
	hostKeyOnce sync.Once
	hostKey     ssh.Signer
)

func testHostKey() ssh.Signer {
	hostKeyOnce.Do(func() {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			panic(err)
		}
		hostKey, err = ssh.NewSignerFromSigner(priv)
		if err != nil {
			panic(err)
		}
	})
	return hostKey
}

func generateClientKey(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromSigner(priv)
	require.NoError(t, err)
	return signer
}

type fixture struct {
	t        *testing.T
	adapter  *Adapter
	store    *fakeStore
	sink     *recordingSink
	registry *fakeRegistry
	addr     string
	cancel   context.CancelFunc
	served   chan error
	stopOnce sync.Once
}

type fixtureOption func(*fakeStore, *Config)

func withIdleTimeout(d time.Duration) fixtureOption {
	return func(_ *fakeStore, cfg *Config) { cfg.IdleTimeout = d }
}

func withUnsubscribed() fixtureOption {
	return func(s *fakeStore, _ *Config) { s.subscribed = false }
}

func withAuthorizedKeys(authorized string) fixtureOption {
	return func(s *fakeStore, _ *Config) { s.user.PublicKey = authorized }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	root := t.TempDir()
	listener := &models.Listener{
		ID:        testListenerID,
		Name:      "sftp-main",
		Protocol:  models.ProtocolSFTP,
		BindingIP: "127.0.0.1",
		Port:      0,
		Enabled:   true,
	}
	store := &fakeStore{
		user:       &models.User{ID: testUserID, Username: "alice", PasswordEnabled: true},
		password:   "hunter2",
		subscribed: true,
		perm:       models.FullListenerPermission(testUserID, testListenerID),
		vps: []*models.VirtualPath{{
			ID:             "vp-1",
			UserID:         testUserID,
			VirtualPath:    "/",
			LocalPath:      root,
			CanRead:        true,
			CanWrite:       true,
			CanAppend:      true,
			CanDelete:      true,
			CanList:        true,
			CanCreateDir:   true,
			CanRename:      true,
			ApplyToSubdirs: true,
		}},
	}

	cfg := Config{
		HostKeys:        []ssh.Signer{testHostKey()},
		ShutdownTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(store, &cfg)
	}

	sink := &recordingSink{}
	registry := &fakeRegistry{}

	a, err := New(listener, Deps{
		Authorizer: authz.New(store),
		Auth:       adapter.NewAuthenticator(store, sink, listener),
		Registry:   registry,
		Activities: sink,
	}, cfg)
	require.NoError(t, err)
	require.NoError(t, a.Bind())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- a.Serve(ctx) }()

	fx := &fixture{
		t:        t,
		adapter:  a,
		store:    store,
		sink:     sink,
		registry: registry,
		addr:     a.Addr().String(),
		cancel:   cancel,
		served:   served,
	}
	t.Cleanup(fx.shutdown)
	return fx
}

func (fx *fixture) shutdown() {
	fx.stopOnce.Do(func() {
		fx.cancel()
		select {
		case <-fx.served:
		case <-time.After(5 * time.Second):
			fx.t.Error("adapter did not stop")
		}
	})
}

func (fx *fixture) dial(auth ...ssh.AuthMethod) (*ssh.Client, error) {
	return ssh.Dial("tcp", fx.addr, &ssh.ClientConfig{
		User:            "alice",
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
}

// openSFTP opens the sftp subsystem on a fresh session channel.
func openSFTP(t *testing.T, client *ssh.Client) (io.WriteCloser, io.Reader, *ssh.Session) {
	t.Helper()
	sess, err := client.NewSession()
	require.NoError(t, err)
	stdin, err := sess.StdinPipe()
	require.NoError(t, err)
	stdout, err := sess.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, sess.RequestSubsystem("sftp"))
	return stdin, stdout, sess
}

// initPacket is INIT with protocol version 3.
var initPacket = []byte{0, 0, 0, 5, 1, 0, 0, 0, 3}

func negotiate(t *testing.T, stdin io.Writer, stdout io.Reader) {
	t.Helper()
	_, err := stdin.Write(initPacket)
	require.NoError(t, err)

	reply := make([]byte, 9)
	_, err = io.ReadFull(stdout, reply)
	require.NoError(t, err)
	require.EqualValues(t, 5, binary.BigEndian.Uint32(reply[0:4]))
	require.EqualValues(t, 2, reply[4], "expected VERSION packet")
	require.EqualValues(t, 3, binary.BigEndian.Uint32(reply[5:9]))
}

func TestAdapter_PasswordAuthAndVersionExchange(t *testing.T) {
	fx := newFixture(t)

	client, err := fx.dial(ssh.Password("hunter2"))
	require.NoError(t, err)
	defer client.Close()

	stdin, stdout, sess := openSFTP(t, client)
	defer sess.Close()
	negotiate(t, stdin, stdout)

	require.Eventually(t, func() bool { return fx.registry.activeCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Contains(t, fx.sink.actions(), models.ActionLogin)
}

func TestAdapter_WrongPasswordRejected(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.dial(ssh.Password("wrong"))
	require.Error(t, err)
	assert.Contains(t, fx.sink.actions(), models.Denied(models.ActionLogin))
	assert.NotContains(t, fx.sink.actions(), models.ActionLogin)
}

func TestAdapter_UnsubscribedRejected(t *testing.T) {
	fx := newFixture(t, withUnsubscribed())

	_, err := fx.dial(ssh.Password("hunter2"))
	require.Error(t, err, "a valid credential without a subscription must not connect")
	assert.Contains(t, fx.sink.actions(), models.Denied(models.ActionLogin))
}

func TestAdapter_PublicKeyAuth(t *testing.T) {
	clientKey := generateClientKey(t)
	authorized := "# laptop\n" + string(ssh.MarshalAuthorizedKey(clientKey.PublicKey()))
	fx := newFixture(t, withAuthorizedKeys(authorized))

	client, err := fx.dial(ssh.PublicKeys(clientKey))
	require.NoError(t, err)
	defer client.Close()

	stdin, stdout, sess := openSFTP(t, client)
	defer sess.Close()
	negotiate(t, stdin, stdout)

	assert.Contains(t, fx.sink.actions(), models.ActionLogin)
}

func TestAdapter_PublicKeyMismatchRecorded(t *testing.T) {
	configured := generateClientKey(t)
	offered := generateClientKey(t)
	fx := newFixture(t, withAuthorizedKeys(string(ssh.MarshalAuthorizedKey(configured.PublicKey()))))

	_, err := fx.dial(ssh.PublicKeys(offered))
	require.Error(t, err)
	assert.Contains(t, fx.sink.actions(), models.Denied(models.ActionLogin))
}

func TestAdapter_NoConfiguredKeyFailsQuietly(t *testing.T) {
	offered := generateClientKey(t)
	fx := newFixture(t)

	_, err := fx.dial(ssh.PublicKeys(offered))
	require.Error(t, err)
	assert.Empty(t, fx.sink.actions(),
		"key attempts against users without keys leave no activity trail")
}

func TestAdapter_UnknownSubsystemRefused(t *testing.T) {
	fx := newFixture(t)

	client, err := fx.dial(ssh.Password("hunter2"))
	require.NoError(t, err)
	defer client.Close()

	sess, err := client.NewSession()
	require.NoError(t, err)
	defer sess.Close()
	assert.Error(t, sess.RequestSubsystem("echo"))
}

func TestAdapter_IdleTimeoutDisconnects(t *testing.T) {
	fx := newFixture(t, withIdleTimeout(200*time.Millisecond))

	client, err := fx.dial(ssh.Password("hunter2"))
	require.NoError(t, err)
	defer client.Close()

	stdin, stdout, sess := openSFTP(t, client)
	defer sess.Close()
	negotiate(t, stdin, stdout)

	// Send nothing more: the server must end the session by itself.
	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(io.Discard, stdout)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server never closed the idle session")
	}

	assert.Contains(t, fx.sink.actions(), models.ActionIdleTimeout)
	require.Eventually(t, func() bool { return fx.registry.activeCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestAdapter_ShutdownUnregistersSessions(t *testing.T) {
	fx := newFixture(t)

	client, err := fx.dial(ssh.Password("hunter2"))
	require.NoError(t, err)
	defer client.Close()

	stdin, stdout, sess := openSFTP(t, client)
	defer sess.Close()
	negotiate(t, stdin, stdout)

	require.Eventually(t, func() bool { return fx.registry.activeCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	fx.shutdown()
	assert.Equal(t, 0, fx.registry.activeCount())
}

func TestAdapter_RequiresHostKey(t *testing.T) {
	listener := &models.Listener{
		ID:        testListenerID,
		Name:      "sftp-main",
		Protocol:  models.ProtocolSFTP,
		BindingIP: "127.0.0.1",
	}
	store := &fakeStore{}
	_, err := New(listener, Deps{
		Authorizer: authz.New(store),
		Auth:       adapter.NewAuthenticator(store, nil, listener),
	}, Config{})
	assert.Error(t, err)
}

func TestSubsystemName(t *testing.T) {
	assert.Equal(t, "sftp", subsystemName([]byte{0, 0, 0, 4, 's', 'f', 't', 'p'}))
	assert.Equal(t, "", subsystemName([]byte{0, 0, 0}))
	assert.Equal(t, "", subsystemName([]byte{0, 0, 0, 9, 's', 'f', 't', 'p'}))
	assert.Equal(t, "", subsystemName(nil))
}
