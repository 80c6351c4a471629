package schema_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solarwatch/growattproxy/internal/schema"
)

func TestParseBareYAMLList(t *testing.T) {
	data := []byte(`
- name: "Inverter SN"
  offset: 0
  byte_length: 30
  fragment_type: STRING
  serial_number: true
- name: "Output Power"
  offset: 50
  byte_length: 4
  fragment_type: FLOAT
  fraction: 10
`)
	s, err := schema.Parse(data)
	require.NoError(t, err)
	require.Len(t, s, 2)
	require.Equal(t, "Inverter SN", s[0].Name)
	require.True(t, s[0].SerialNumber)
	require.Equal(t, schema.TypeFloat, s[1].FragmentType)
	require.NotNil(t, s[1].Fraction)
	require.EqualValues(t, 10, *s[1].Fraction)
}

func TestParseWrappedYAMLDocument(t *testing.T) {
	data := []byte(`
mappings:
  - name: "Status"
    offset: 10
    byte_length: 2
    fragment_type: INTEGER
`)
	s, err := schema.Parse(data)
	require.NoError(t, err)
	require.Len(t, s, 1)
	require.Equal(t, schema.TypeInteger, s[0].FragmentType)
}

func TestParseJSONWithAliases(t *testing.T) {
	data := []byte(`[
		{"name": "Inverter SN", "offset": 0, "length": 30, "type": "String"},
		{"name": "Energy Today", "offset": 40, "length": 4, "type": "int"}
	]`)
	s, err := schema.Parse(data)
	require.NoError(t, err)
	require.Len(t, s, 2)
	require.EqualValues(t, 30, s[0].ByteLength)
	require.Equal(t, schema.TypeString, s[0].FragmentType)
	require.Equal(t, schema.TypeInteger, s[1].FragmentType)
}

func TestParseRejectsUnknownFragmentType(t *testing.T) {
	data := []byte(`[{"name": "X", "offset": 0, "byte_length": 1, "fragment_type": "BOGUS"}]`)
	_, err := schema.Parse(data)
	require.Error(t, err)
}

func TestParseRejectsMissingName(t *testing.T) {
	data := []byte(`[{"offset": 0, "byte_length": 1, "fragment_type": "INTEGER"}]`)
	_, err := schema.Parse(data)
	require.Error(t, err)
}
