// Command inverter-sim is a throwaway datalogger simulator for exercising
// growattproxy during manual or integration testing: it dials the proxy,
// sends one Ping frame, then periodically sends a Data4 frame carrying a
// synthetic reading, the way a real Growatt datalogger would.
package main

import (
	"encoding/binary"
	"flag"
	"log"
	"net"
	"time"

	"github.com/solarwatch/growattproxy/internal/codec"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5279", "growattproxy listen address")
	serial := flag.String("serial", "SIM0001", "inverter serial number to report")
	interval := flag.Duration("interval", 5*time.Second, "delay between simulated readings")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()

	log.Printf("connected to %s as %s", *addr, *serial)

	if err := send(conn, pingFrame()); err != nil {
		log.Fatalf("send ping: %v", err)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for range ticker.C {
		frame := data4Frame(*serial, time.Now())
		if err := send(conn, frame); err != nil {
			log.Printf("send data4: %v", err)
			return
		}
		log.Printf("sent data4 reading (%d bytes)", len(frame))
	}
}

func send(conn net.Conn, frame []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := conn.Write(frame)
	return err
}

// pingFrame builds a minimal Ping (0x16) keepalive: an 8-byte header, no
// body.
func pingFrame() []byte {
	return scramble(buildHeader(0x16, nil))
}

// data4Frame builds a Data4 (0x04) frame whose body layout matches the
// bundled default inverters schema: a 10-byte serial string, a 2-byte
// integer status, then a 6-byte date/time stamp.
func data4Frame(serial string, now time.Time) []byte {
	body := make([]byte, 18)
	copy(body[0:10], padSerial(serial, 10))
	binary.BigEndian.PutUint16(body[10:12], 1) // status: normal
	body[12] = byte(now.Year() - 2000)
	body[13] = byte(now.Month())
	body[14] = byte(now.Day())
	body[15] = byte(now.Hour())
	body[16] = byte(now.Minute())
	body[17] = byte(now.Second())

	return scramble(buildHeader(0x04, body))
}

func padSerial(serial string, n int) []byte {
	out := make([]byte, n)
	copy(out, serial)
	return out
}

func buildHeader(typeByte byte, body []byte) []byte {
	frame := make([]byte, codec.HeaderLen+len(body))
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(body)))
	frame[7] = typeByte
	copy(frame[codec.HeaderLen:], body)
	return frame
}

// scramble and codec.Unscramble are the same XOR involution; this tool
// reuses it to produce wire-scrambled frames from clear ones.
func scramble(clear []byte) []byte {
	out, err := codec.Unscramble(clear)
	if err != nil {
		// clear is always HeaderLen or longer here, so this cannot happen.
		panic(err)
	}
	return out
}
