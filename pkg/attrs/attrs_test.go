package attrs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solarwatch/growattproxy/pkg/attrs"
)

func TestStoreSetGetHas(t *testing.T) {
	s := attrs.New[string, any]()

	_, ok := s.Get("serial_number")
	require.False(t, ok)
	require.False(t, s.Has("serial_number"))

	s.Set("serial_number", "SN001")

	v, ok := s.Get("serial_number")
	require.True(t, ok)
	require.Equal(t, "SN001", v)
	require.True(t, s.Has("serial_number"))
}

func TestStoreSetOverwrites(t *testing.T) {
	s := attrs.New[string, any]()
	s.Set("serial_number", "SN001")
	s.Set("serial_number", "SN002")

	v, ok := s.Get("serial_number")
	require.True(t, ok)
	require.Equal(t, "SN002", v)
}
