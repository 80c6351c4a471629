package decodemsg_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solarwatch/growattproxy/internal/codec"
	"github.com/solarwatch/growattproxy/internal/decodemsg"
	"github.com/solarwatch/growattproxy/internal/protocol"
	"github.com/solarwatch/growattproxy/internal/schema"
)

func fixedNow() time.Time { return time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC) }

func scrambledFrame(t *testing.T, typeByte byte, body []byte) []byte {
	t.Helper()
	clear := make([]byte, codec.HeaderLen+len(body))
	clear[4] = byte(len(body) >> 8)
	clear[5] = byte(len(body))
	clear[7] = typeByte
	copy(clear[codec.HeaderLen:], body)

	scrambled, err := codec.Unscramble(clear) // XOR is its own inverse
	require.NoError(t, err)
	return scrambled
}

func uint32Fraction(n uint32) *uint32 { return &n }

func TestDecodeData4(t *testing.T) {
	fraction := uint32Fraction(10)
	sch := schema.Schema{
		{Name: "Inverter SN", Offset: 0, ByteLength: 4, FragmentType: schema.TypeString, SerialNumber: true},
		{Name: "Status", Offset: 4, ByteLength: 2, FragmentType: schema.TypeInteger},
		{Name: "Output Power", Offset: 6, ByteLength: 2, FragmentType: schema.TypeFloat, Fraction: fraction},
		{Name: "Run Time", Offset: 8, ByteLength: 6, FragmentType: schema.TypeDate},
		{Name: "Out Of Range", Offset: 100, ByteLength: 4, FragmentType: schema.TypeInteger},
		{Name: "Bad Date", Offset: 14, ByteLength: 6, FragmentType: schema.TypeDate},
	}

	body := make([]byte, 20)
	copy(body[0:4], []byte{'S', 'N', '0', '1'})
	body[4], body[5] = 0x00, 0x01  // Status = 1
	body[6], body[7] = 0x00, 0x2d  // Output Power = 45 / 10 = 4.5
	body[8], body[9], body[10] = 26, 7, 30 // year 2026-07-30
	body[11], body[12], body[13] = 12, 0, 0
	body[14], body[15], body[16] = 26, 13, 40 // invalid month/day
	body[17], body[18], body[19] = 0, 0, 0

	frame := scrambledFrame(t, 0x04, body)

	dec := decodemsg.New(sch, fixedNow)
	msg, warnings, err := dec.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, protocol.Data4, msg.MessageType)
	require.Equal(t, fixedNow(), msg.Timestamp)
	require.NotNil(t, msg.SerialNumber)
	require.Equal(t, "SN01", *msg.SerialNumber)
	require.Equal(t, "1", msg.Fields["Status"])
	require.Equal(t, "4.5", msg.Fields["Output Power"])
	require.Equal(t, "2026-07-30 12:00:00", msg.Fields["Run Time"])

	require.Len(t, warnings, 2)
	require.Equal(t, "Out Of Range", warnings[0].Field)
	require.ErrorIs(t, warnings[0].Err, decodemsg.ErrSliceOutOfRange)
	require.Equal(t, "Bad Date", warnings[1].Field)
	require.ErrorIs(t, warnings[1].Err, decodemsg.ErrBadDate)

	_, hasBadDate := msg.Fields["Bad Date"]
	require.False(t, hasBadDate)
}

func TestDecodeData4FallsBackToLiteralSerialName(t *testing.T) {
	sch := schema.Schema{
		{Name: "Inverter SN", Offset: 0, ByteLength: 4, FragmentType: schema.TypeString},
	}
	body := []byte{'A', 'B', 'C', 'D'}
	frame := scrambledFrame(t, 0x04, body)

	dec := decodemsg.New(sch, fixedNow)
	msg, _, err := dec.Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, msg.SerialNumber)
	require.Equal(t, "ABCD", *msg.SerialNumber)
}

func TestDecodePlaceholderTypes(t *testing.T) {
	dec := decodemsg.New(nil, fixedNow)

	for _, tb := range []byte{0x03, 0x16, 0x18, 0x19, 0x7f} {
		frame := scrambledFrame(t, tb, []byte{1, 2, 3, 4})
		msg, warnings, err := dec.Decode(frame)
		require.NoError(t, err)
		require.Empty(t, warnings)
		require.Empty(t, msg.Fields)
		require.Nil(t, msg.SerialNumber)
		require.NotEqual(t, protocol.MeterData, msg.MessageType)
	}
}

func TestDecodeShortFrame(t *testing.T) {
	dec := decodemsg.New(nil, fixedNow)
	_, _, err := dec.Decode([]byte{0x00, 0x00})
	require.ErrorIs(t, err, decodemsg.ErrShortFrame)
}

func TestDecodeMeterData(t *testing.T) {
	serial := "DXD3333333"
	serialRegion := make([]byte, 30)
	copy(serialRegion, serial)

	values := make([]string, 40)
	for i := range values {
		values[i] = "1"
	}
	values[23] = "0.9" // power_factor, zero-based index 23

	csv := strings.Join(values, ",")
	body := append(append([]byte{}, serialRegion...), make([]byte, 10)...)
	body = append(body, []byte(csv)...)
	body = append(body, 0xAB, 0xCD) // CRC, unvalidated

	frame := scrambledFrame(t, 0x7f, body)

	dec := decodemsg.New(nil, fixedNow)
	msg, warnings, err := dec.Decode(frame)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, protocol.MeterData, msg.MessageType)
	require.NotNil(t, msg.SerialNumber)
	require.Equal(t, serial, *msg.SerialNumber)
	require.Len(t, msg.Fields, 40)
	require.Equal(t, "0.9", msg.Fields["power_factor"])
}

func TestDecodeMeterDataTruncatesExtraValues(t *testing.T) {
	serialRegion := make([]byte, 30)
	values := make([]string, 45)
	for i := range values {
		values[i] = "2"
	}
	csv := strings.Join(values, ",")
	body := append(append([]byte{}, serialRegion...), make([]byte, 10)...)
	body = append(body, []byte(csv)...)
	body = append(body, 0x00, 0x00)

	frame := scrambledFrame(t, 0x7f, body)

	dec := decodemsg.New(nil, fixedNow)
	msg, warnings, err := dec.Decode(frame)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Len(t, msg.Fields, 40)
}

func TestTypeTagIsJSONQuoted(t *testing.T) {
	msg := decodemsg.DecodedMessage{MessageType: protocol.Data4}
	require.Equal(t, `"Data4"`, msg.TypeTag())
}

func TestDecodeClearSkipsUnscrambling(t *testing.T) {
	clear := make([]byte, codec.HeaderLen)
	clear[7] = 0x16 // Ping

	dec := decodemsg.New(nil, fixedNow)
	msg, warnings, err := dec.DecodeClear(clear)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, protocol.Ping, msg.MessageType)
}
