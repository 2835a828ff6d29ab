package sftp

import (
	"bytes"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/wharfd/wharfd/pkg/adapter"
)

// publicKeyCallback matches the offered key against the user's configured
// authorized keys. Users without a configured key fail quietly here since
// password authentication may still follow; a mismatch against a configured
// key is recorded as a denied login.
func (a *Adapter) publicKeyCallback(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	user, err := a.auth.LookupUser(a.ShutdownCtx, meta.User())
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(user.PublicKey) == "" {
		return nil, adapter.ErrAuthFailed
	}
	if !matchesAuthorizedKey(user.PublicKey, key) {
		a.auth.Deny(user.Username, clientIP(meta.RemoteAddr()), "public key mismatch")
		return nil, adapter.ErrAuthFailed
	}

	admitted, err := a.auth.Admit(a.ShutdownCtx, user, clientIP(meta.RemoteAddr()), "publickey")
	if err != nil {
		return nil, err
	}
	return permissionsFor(admitted)
}

// matchesAuthorizedKey reports whether offered appears in the authorized
// keys text (one authorized_keys line per key; comments and blank lines are
// skipped). Keys match on algorithm and wire encoding.
func matchesAuthorizedKey(authorized string, offered ssh.PublicKey) bool {
	offeredType := offered.Type()
	offeredBytes := offered.Marshal()

	rest := []byte(authorized)
	for len(rest) > 0 {
		key, _, _, next, err := ssh.ParseAuthorizedKey(rest)
		if err != nil {
			return false
		}
		if key.Type() == offeredType && bytes.Equal(key.Marshal(), offeredBytes) {
			return true
		}
		rest = next
	}
	return false
}
