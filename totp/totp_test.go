package totp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//goland:noinspection SpellCheckingInspection
const testSecret = "cnOgv/KdpLoP6Nbh0GMkXkPXALQ="

func TestGenerateTotpCode(t *testing.T) {
	state, err := NewState(testSecret, "")
	require.NoError(t, err)

	code, err := state.GenerateTotpCode(time.Now())
	require.NoError(t, err)
	assert.Len(t, code, 5)
}

func TestSign(t *testing.T) {
	state, err := NewState("", testSecret)
	require.NoError(t, err)

	at := time.Unix(1700000000, 0)
	first, err := state.Sign(at, "conf")
	require.NoError(t, err)
	second, err := state.Sign(at, "conf")
	require.NoError(t, err)
	other, err := state.Sign(at, "allow")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
}

func TestSignWithoutIdentitySecret(t *testing.T) {
	state, err := NewState(testSecret, "")
	require.NoError(t, err)

	_, err = state.Sign(time.Now(), "conf")
	assert.Error(t, err)
}

func TestOffset(t *testing.T) {
	state, err := NewState(testSecret, testSecret)
	require.NoError(t, err)

	state.SetOffset(time.Hour)
	assert.WithinDuration(t, time.Now().Add(time.Hour), state.Now(), 2*time.Second)
}
