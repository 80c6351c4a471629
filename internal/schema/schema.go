// Package schema loads the declarative field-extraction table that tells
// the message decoder where each named value lives inside a DATA4 frame.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FragmentType names how a field's raw bytes should be interpreted.
type FragmentType string

const (
	TypeString  FragmentType = "STRING"
	TypeDate    FragmentType = "DATE"
	TypeInteger FragmentType = "INTEGER"
	TypeFloat   FragmentType = "FLOAT"
)

// unmarshalAliases lets a schema file spell a type the way the reference
// implementation's serde aliases did ("int" for INTEGER).
var unmarshalAliases = map[string]FragmentType{
	"STRING":  TypeString,
	"DATE":    TypeDate,
	"INTEGER": TypeInteger,
	"INT":     TypeInteger,
	"FLOAT":   TypeFloat,
}

// Field describes one named value extracted from a DATA4 payload.
type Field struct {
	Name         string       `yaml:"name" json:"name"`
	Offset       uint32       `yaml:"offset" json:"offset"`
	ByteLength   uint32       `yaml:"byte_length" json:"byte_length"`
	FragmentType FragmentType `yaml:"fragment_type" json:"fragment_type"`
	Fraction     *uint32      `yaml:"fraction,omitempty" json:"fraction,omitempty"`

	// SerialNumber marks a STRING fragment as the inverter's serial number.
	// The first flagged fragment wins; the decoder ignores the flag on
	// other fragment types and falls back to a fragment named
	// "Inverter SN" when none is flagged.
	SerialNumber bool `yaml:"serial_number,omitempty" json:"serial_number,omitempty"`
}

// Schema is the ordered set of fields a DATA4 frame should be decoded into.
type Schema []Field

// rawField mirrors Field but accepts the reference implementation's
// alternate spellings for a couple of keys before being normalized.
type rawField struct {
	Name         string       `yaml:"name" json:"name"`
	Offset       uint32       `yaml:"offset" json:"offset"`
	ByteLength   uint32       `yaml:"byte_length" json:"byte_length"`
	Length       *uint32      `yaml:"length,omitempty" json:"length,omitempty"`
	FragmentType FragmentType `yaml:"fragment_type" json:"fragment_type"`
	Type         string       `yaml:"type,omitempty" json:"type,omitempty"`
	Fraction     *uint32      `yaml:"fraction,omitempty" json:"fraction,omitempty"`
	SerialNumber bool         `yaml:"serial_number,omitempty" json:"serial_number,omitempty"`
}

func (r rawField) normalize() (Field, error) {
	f := Field{
		Name:         r.Name,
		Offset:       r.Offset,
		ByteLength:   r.ByteLength,
		Fraction:     r.Fraction,
		SerialNumber: r.SerialNumber,
	}
	if f.ByteLength == 0 && r.Length != nil {
		f.ByteLength = *r.Length
	}

	typ := string(r.FragmentType)
	if typ == "" {
		typ = r.Type
	}
	typ = strings.ToUpper(strings.TrimSpace(typ))

	canonical, ok := unmarshalAliases[typ]
	if !ok {
		return Field{}, fmt.Errorf("schema: unknown fragment_type %q for field %q", typ, r.Name)
	}
	f.FragmentType = canonical

	if f.Name == "" {
		return Field{}, fmt.Errorf("schema: field missing name")
	}
	return f, nil
}

// Load reads a field schema from path, auto-detecting YAML or JSON by
// content. Both a bare list and a document wrapped under "mappings:" are
// accepted.
func Load(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes schema bytes already read into memory, used by Load and
// directly by tests.
func Parse(data []byte) (Schema, error) {
	if looksLikeJSON(data) {
		return parseJSON(data)
	}
	return parseYAML(data)
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{')
}

func parseJSON(data []byte) (Schema, error) {
	var raws []rawField
	if err := json.Unmarshal(data, &raws); err == nil {
		return normalizeAll(raws)
	}

	var doc struct {
		Mappings []rawField `json:"mappings"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: invalid JSON: %w", err)
	}
	return normalizeAll(doc.Mappings)
}

func parseYAML(data []byte) (Schema, error) {
	var raws []rawField
	if err := yaml.Unmarshal(data, &raws); err == nil && len(raws) > 0 {
		return normalizeAll(raws)
	}

	var doc struct {
		Mappings []rawField `yaml:"mappings"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: invalid YAML: %w", err)
	}
	return normalizeAll(doc.Mappings)
}

func normalizeAll(raws []rawField) (Schema, error) {
	out := make(Schema, 0, len(raws))
	for _, r := range raws {
		f, err := r.normalize()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
