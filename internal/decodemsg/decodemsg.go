// Package decodemsg implements the Growatt v6 message decoder: it takes one
// already-framed buffer, classifies it, and produces a DecodedMessage ready
// for persistence. Every code path here is pure except for the timestamp
// source, and every failure is a recoverable, typed error — the decoder
// never panics and never discards a whole message for one bad fragment.
package decodemsg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/solarwatch/growattproxy/internal/codec"
	"github.com/solarwatch/growattproxy/internal/protocol"
	"github.com/solarwatch/growattproxy/internal/schema"
)

var (
	// ErrShortFrame is re-exported from codec so callers can errors.Is
	// against one taxonomy regardless of which layer detected it.
	ErrShortFrame = codec.ErrShortFrame

	ErrBadDate         = errors.New("decodemsg: field is not a valid date")
	ErrSliceOutOfRange = errors.New("decodemsg: fragment extends past payload")
)

// meterFields is the fixed, ordered key list the METER_DATA CSV body is
// zipped against.
var meterFields = []string{
	"active_energy", "reactive_energy",
	"active_power_l1", "active_power_l2", "active_power_l3",
	"reactive_power_l1", "reactive_power_l2", "reactive_power_l3",
	"apparent_power_l1", "apparent_power_l2", "apparent_power_l3",
	"power_factor_l1", "power_factor_l2", "power_factor_l3",
	"voltage_l1", "voltage_l2", "voltage_l3",
	"current_l1", "current_l2", "current_l3",
	"active_power", "reactive_power", "apparent_power", "power_factor", "frequency",
	"posi_active_power", "reverse_active_power",
	"posi_reactive_power", "reverse_reactive_power",
	"apparent_energy",
	"total_active_energy_l1", "total_active_energy_l2", "total_active_energy_l3",
	"total_reactive_energy_l1", "total_reactive_energy_l2", "total_reactive_energy_l3",
	"total_energy",
	"l1_voltage_2", "l2_voltage_3", "l3_voltage_1",
}

const (
	meterSerialStart  = 8
	meterSerialEnd    = 38
	meterReservedEnd  = 48
	meterCRCLen       = 2
	meterMinFrameSize = meterReservedEnd + meterCRCLen
)

// DecodedMessage is the result of decoding one frame.
type DecodedMessage struct {
	Raw          []byte
	Header       [codec.HeaderLen]byte
	MessageType  protocol.MessageType
	Timestamp    time.Time
	SerialNumber *string
	Fields       map[string]string
}

// TypeTag renders MessageType the way the persisted "type" column expects:
// the JSON-quoted enum name, e.g. `"Data4"`.
func (m DecodedMessage) TypeTag() string {
	return `"` + m.MessageType.String() + `"`
}

// Warning is a recoverable, per-fragment problem the decoder hit while
// producing a DecodedMessage. The message is still returned complete.
type Warning struct {
	Field string
	Err   error
}

func (w Warning) Error() string {
	return fmt.Sprintf("field %q: %v", w.Field, w.Err)
}

// Decoder decodes frames against one immutable schema, shared by reference
// across every session (see FieldSchema ownership in the design notes).
type Decoder struct {
	Schema schema.Schema
	Now    func() time.Time
}

// New builds a Decoder bound to s. now defaults to time.Now when nil.
func New(s schema.Schema, now func() time.Time) *Decoder {
	if now == nil {
		now = time.Now
	}
	return &Decoder{Schema: s, Now: now}
}

// Decode classifies buf (one complete frame, still scrambled as it
// arrives on the wire) and dispatches to the matching decode routine.
// warnings reports skipped fragments; a non-nil error means the whole
// frame was rejected (currently only possible for SHORT_FRAME).
func (d *Decoder) Decode(buf []byte) (DecodedMessage, []Warning, error) {
	if len(buf) < codec.HeaderLen {
		return DecodedMessage{}, nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(buf))
	}

	bytes, err := codec.Unscramble(buf)
	if err != nil {
		return DecodedMessage{}, nil, err
	}

	return d.DecodeClear(bytes)
}

// DecodeClear is Decode's second half: it assumes the header and body
// are already unscrambled, which the offline decrypt tool needs for
// messages recorded clear (e.g. decrypt: false in its input JSON).
func (d *Decoder) DecodeClear(bytes []byte) (DecodedMessage, []Warning, error) {
	header, err := protocol.ParseHeader(bytes)
	if err != nil {
		return DecodedMessage{}, nil, err
	}

	msgType := header.MessageType
	if msgType == protocol.Unknown && looksLikeMeterData(bytes) {
		msgType = protocol.MeterData
	}

	switch msgType {
	case protocol.Data4:
		return d.decodeData4(bytes, header)
	case protocol.MeterData:
		return d.decodeMeterData(bytes, header)
	default:
		return d.placeholder(bytes, header, msgType), nil, nil
	}
}

func (d *Decoder) placeholder(bytes []byte, header protocol.FrameHeader, msgType protocol.MessageType) DecodedMessage {
	return DecodedMessage{
		Raw:         bytes,
		Header:      header.Raw,
		MessageType: msgType,
		Timestamp:   d.Now(),
		Fields:      map[string]string{},
	}
}

// decodeData4 walks the shared schema, extracting and stringifying every
// fragment. A bad fragment becomes a Warning and is skipped; it never
// aborts the rest of the message.
func (d *Decoder) decodeData4(bytes []byte, header protocol.FrameHeader) (DecodedMessage, []Warning, error) {
	body := bytes[codec.HeaderLen:]

	msg := DecodedMessage{
		Raw:         bytes,
		Header:      header.Raw,
		MessageType: protocol.Data4,
		Timestamp:   d.Now(),
		Fields:      make(map[string]string, len(d.Schema)),
	}

	var warnings []Warning
	var fallbackSerial *string

	for _, f := range d.Schema {
		value, err := decodeFragment(body, f)
		if err != nil {
			warnings = append(warnings, Warning{Field: f.Name, Err: err})
			continue
		}

		msg.Fields[f.Name] = value

		if f.FragmentType == schema.TypeString {
			if f.SerialNumber {
				if msg.SerialNumber != nil {
					continue
				}
				v := value
				msg.SerialNumber = &v
			} else if f.Name == "Inverter SN" && fallbackSerial == nil {
				v := value
				fallbackSerial = &v
			}
		}
	}

	if msg.SerialNumber == nil {
		msg.SerialNumber = fallbackSerial
	}

	return msg, warnings, nil
}

func decodeFragment(body []byte, f schema.Field) (value string, err error) {
	start := int(f.Offset)
	end := start + int(f.ByteLength)
	if start < 0 || end > len(body) || start > end {
		return "", ErrSliceOutOfRange
	}
	slice := body[start:end]

	switch f.FragmentType {
	case schema.TypeString:
		return filterAlphanumeric(codec.BytesToASCII(slice)), nil
	case schema.TypeDate:
		return decodeDate(slice)
	case schema.TypeInteger:
		return strconv.FormatUint(uint64(beUint32ZeroExtended(slice)), 10), nil
	case schema.TypeFloat:
		divisor := uint32(1)
		if f.Fraction != nil && *f.Fraction != 0 {
			divisor = *f.Fraction
		}
		value := float32(beUint32ZeroExtended(slice)) / float32(divisor)
		return strconv.FormatFloat(float64(value), 'f', -1, 32), nil
	default:
		return "", fmt.Errorf("decodemsg: unsupported fragment type %q", f.FragmentType)
	}
}

// beUint32ZeroExtended zero-pads slice on the left to 4 bytes and parses it
// as a big-endian unsigned 32-bit integer. The schema loader does not limit
// the width of numeric fragments; a slice longer than 4 bytes keeps only
// its last 4 bytes.
func beUint32ZeroExtended(slice []byte) uint32 {
	var buf [4]byte
	if len(slice) >= 4 {
		copy(buf[:], slice[len(slice)-4:])
	} else {
		copy(buf[4-len(slice):], slice)
	}
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}

func decodeDate(slice []byte) (string, error) {
	if len(slice) < 6 {
		return "", ErrSliceOutOfRange
	}
	year := 2000 + int(slice[0])
	month := time.Month(slice[1])
	day := int(slice[2])
	hour, minute, second := int(slice[3]), int(slice[4]), int(slice[5])

	t := time.Date(year, month, day, hour, minute, second, 0, time.Local)
	if t.Year() != year || t.Month() != month || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute || t.Second() != second {
		return "", ErrBadDate
	}
	return t.Format("2006-01-02 15:04:05"), nil
}

func filterAlphanumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// looksLikeMeterData implements the structural heuristic recorded in
// SPEC_FULL.md's design notes: a frame whose type byte matched none of
// the five known discriminators is treated as METER_DATA when the region
// after the reserved block decodes to a comma-separated ASCII run.
func looksLikeMeterData(bytes []byte) bool {
	if len(bytes) < meterMinFrameSize {
		return false
	}
	csvBody := bytes[meterReservedEnd : len(bytes)-meterCRCLen]
	if len(csvBody) == 0 {
		return false
	}

	hasComma := false
	for _, b := range csvBody {
		if b == ',' {
			hasComma = true
			continue
		}
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return hasComma
}

// decodeMeterData implements §4.3.2: a 30-byte serial region, a 10-byte
// reserved gap, and a comma-separated ASCII tail zipped against the fixed
// meterFields key list.
func (d *Decoder) decodeMeterData(bytes []byte, header protocol.FrameHeader) (DecodedMessage, []Warning, error) {
	msg := DecodedMessage{
		Raw:         bytes,
		Header:      header.Raw,
		MessageType: protocol.MeterData,
		Timestamp:   d.Now(),
		Fields:      make(map[string]string, len(meterFields)),
	}

	serial := filterAlphanumeric(codec.BytesToASCII(bytes[meterSerialStart:meterSerialEnd]))
	msg.SerialNumber = &serial

	csvBody := bytes[meterReservedEnd : len(bytes)-meterCRCLen]

	var warnings []Warning
	var values []string
	for _, tok := range strings.Split(string(csvBody), ",") {
		if tok == "" {
			continue
		}
		values = append(values, tok)
	}

	if len(values) > len(meterFields) {
		warnings = append(warnings, Warning{
			Field: "meter_data",
			Err:   fmt.Errorf("%d values exceed the %d known meter keys, extra values dropped", len(values), len(meterFields)),
		})
		values = values[:len(meterFields)]
	}

	for i, v := range values {
		msg.Fields[meterFields[i]] = v
	}

	return msg, warnings, nil
}
