package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	a, err := Parse("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", a.IP.String())
	assert.EqualValues(t, 4001, a.Port)
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{
		"garbage",
		"/ip6/::1/tcp/4001",
		"/ip4/not-an-ip/tcp/4001",
		"/ip4/127.0.0.1/udp/4001",
		"/ip4/127.0.0.1/tcp/not-a-port",
		"/ip4/127.0.0.1/tcp/99999",
	} {
		_, err := Parse(s)
		require.Error(t, err, s)
		var invalid *ErrInvalidAddress
		require.ErrorAs(t, err, &invalid)
	}
}
