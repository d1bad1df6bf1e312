// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package modload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyIntegrity(t *testing.T) {
	data := []byte("console.log('hello')")
	sha256sum, err := Integrity(data, "sha256")
	require.NoError(t, err)
	sha384sum, err := Integrity(data, "sha384")
	require.NoError(t, err)
	sha512sum, err := Integrity(data, "sha512")
	require.NoError(t, err)
	wrong384, err := Integrity([]byte("other"), "sha384")
	require.NoError(t, err)

	assert.NoError(t, VerifyIntegrity(data, ""))
	assert.NoError(t, VerifyIntegrity(data, sha256sum))
	assert.NoError(t, VerifyIntegrity(data, sha384sum))
	assert.NoError(t, VerifyIntegrity(data, sha512sum))
	assert.NoError(t, VerifyIntegrity(data, wrong384+" "+sha384sum), "any digest of the strongest algorithm may match")
	assert.NoError(t, VerifyIntegrity(data, sha384sum+"?ct=application/javascript"))

	assert.ErrorIs(t, VerifyIntegrity(data, wrong384), ErrIntegrity)
	// the weaker sha256 match does not rescue a sha384 mismatch
	assert.ErrorIs(t, VerifyIntegrity(data, sha256sum+" "+wrong384), ErrIntegrity)
	assert.ErrorIs(t, VerifyIntegrity(data, "md5-abc"), ErrIntegrity)
	assert.ErrorIs(t, VerifyIntegrity(data, "sha256-!!notbase64"), ErrIntegrity)

	_, err = Integrity(data, "md5")
	assert.Error(t, err)
}
