package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/solarwatch/growattproxy/internal/appconfig"
	"github.com/solarwatch/growattproxy/internal/codec"
	"github.com/solarwatch/growattproxy/internal/decodemsg"
	"github.com/solarwatch/growattproxy/internal/schema"
)

// decMessage mirrors original_source/src/misc.rs's DecMessage: raw is a
// hex string, decrypt says whether it still needs unscrambling.
type decMessage struct {
	Decrypt bool   `json:"decrypt"`
	Raw     string `json:"raw"`
}

func runDecrypt(args []string) {
	fs := newFlagSet("decrypt")
	configPath := fs.String("config", "./config.yaml", "path to the YAML configuration file (for the inverter schema)")
	filePath := fs.String("file", "", "path to a JSON file of {raw, decrypt} messages")
	_ = fs.Parse(args)

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "growattproxy decrypt: -file is required")
		os.Exit(2)
	}

	sch := loadDecryptSchema(*configPath)

	raw, err := os.ReadFile(*filePath)
	if err != nil {
		fatalf("reading %s failed: %v", *filePath, err)
	}

	var messages []decMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		fatalf("parsing %s failed: %v", *filePath, err)
	}

	dec := decodemsg.New(sch, nil)
	for i, m := range messages {
		bytes, err := codec.HexToBytes(m.Raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "message %d: %v\n", i, err)
			continue
		}

		if m.Decrypt {
			bytes, err = codec.Unscramble(bytes)
			if err != nil {
				fmt.Fprintf(os.Stderr, "message %d: %v\n", i, err)
				continue
			}
		}

		msg, warnings, err := dec.DecodeClear(bytes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "message %d: %v\n", i, err)
			continue
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "message %d: %v\n", i, w)
		}

		printDecoded(msg)
	}
}

// loadDecryptSchema loads the inverter field schema referenced by the
// configuration file; an unreadable or absent schema degrades every
// DATA4 message to a placeholder rather than aborting the whole run.
func loadDecryptSchema(configPath string) schema.Schema {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return nil
	}

	sch, err := schema.Load(cfg.InvertersPath)
	if err != nil {
		return nil
	}
	return sch
}

func printDecoded(msg decodemsg.DecodedMessage) {
	fmt.Printf("%s %s serial=%v fields=%d\n", msg.Timestamp.Format("2006-01-02 15:04:05"), msg.TypeTag(), serialOrDash(msg.SerialNumber), len(msg.Fields))
	for key, value := range msg.Fields {
		fmt.Printf("  %s = %s\n", key, value)
	}
}

func serialOrDash(serial *string) string {
	if serial == nil {
		return "-"
	}
	return *serial
}
