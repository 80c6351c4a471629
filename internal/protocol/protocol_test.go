package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solarwatch/growattproxy/internal/protocol"
)

func TestParseHeaderClassifiesKnownTypes(t *testing.T) {
	cases := []struct {
		typeByte byte
		want     protocol.MessageType
	}{
		{0x03, protocol.Data3},
		{0x04, protocol.Data4},
		{0x16, protocol.Ping},
		{0x18, protocol.Configure},
		{0x19, protocol.Identify},
		{0x7f, protocol.Unknown},
	}

	for _, tc := range cases {
		frame := []byte{0, 1, 0, 0, 0, 6, 0, tc.typeByte}
		h, err := protocol.ParseHeader(frame)
		require.NoError(t, err)
		require.Equal(t, tc.want, h.MessageType)
		require.EqualValues(t, 6, h.PayloadLen)
	}
}

func TestParseHeaderShortFrame(t *testing.T) {
	_, err := protocol.ParseHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestMessageTypeString(t *testing.T) {
	require.Equal(t, "Data4", protocol.Data4.String())
	require.Equal(t, "MeterData", protocol.MeterData.String())
	require.Equal(t, "Unknown", protocol.Unknown.String())
}
