package sftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/ssh"
)

func TestMatchesAuthorizedKey(t *testing.T) {
	keyA := generateClientKey(t)
	keyB := generateClientKey(t)
	lineA := string(ssh.MarshalAuthorizedKey(keyA.PublicKey()))
	lineB := string(ssh.MarshalAuthorizedKey(keyB.PublicKey()))

	t.Run("single key", func(t *testing.T) {
		assert.True(t, matchesAuthorizedKey(lineA, keyA.PublicKey()))
		assert.False(t, matchesAuthorizedKey(lineA, keyB.PublicKey()))
	})

	t.Run("multiple keys with comments", func(t *testing.T) {
		authorized := "# laptop\n" + lineA + "\n# backup\n" + lineB
		assert.True(t, matchesAuthorizedKey(authorized, keyB.PublicKey()))
		assert.True(t, matchesAuthorizedKey(authorized, keyA.PublicKey()))
	})

	t.Run("garbage", func(t *testing.T) {
		assert.False(t, matchesAuthorizedKey("", keyA.PublicKey()))
		assert.False(t, matchesAuthorizedKey("not an authorized key", keyA.PublicKey()))
	})
}
