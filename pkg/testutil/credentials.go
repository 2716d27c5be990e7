package testutil

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/dukex/flowline/pkg/protocol"
)

// SealedPrefix marks values returned by StaticCredentials.Lookup.
const SealedPrefix = "sealed:"

var _ protocol.CredentialResolver = (*StaticCredentials)(nil)

// StaticCredentials resolves credentials from a fixed id → value map owned by
// "test-user". Lookup returns the value with SealedPrefix and Open strips it.
type StaticCredentials struct {
	values map[string]string
	calls  atomic.Int32
}

func NewStaticCredentials(values map[string]string) *StaticCredentials {
	return &StaticCredentials{values: values}
}

func (c *StaticCredentials) Lookup(_ context.Context, credentialID, userID string) (string, error) {
	c.calls.Add(1)

	value, ok := c.values[credentialID]
	if !ok || userID != "test-user" {
		return "", &protocol.CredentialNotFoundError{CredentialID: credentialID, UserID: userID}
	}

	return SealedPrefix + value, nil
}

func (c *StaticCredentials) Open(_ context.Context, sealed string) (string, error) {
	plaintext, ok := strings.CutPrefix(sealed, SealedPrefix)
	if !ok {
		return "", errors.New("value is not sealed")
	}

	return plaintext, nil
}

// Calls returns how many lookups were made.
func (c *StaticCredentials) Calls() int {
	return int(c.calls.Load())
}
