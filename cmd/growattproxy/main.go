// Command growattproxy is a transparent man-in-the-middle TCP proxy for
// Growatt v6 datalogger traffic: it relays bytes between an inverter
// datalogger and Growatt's cloud endpoint unchanged while decoding and
// persisting every message it observes along the way.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/gops/agent"

	"github.com/solarwatch/growattproxy/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "start":
		runStart(os.Args[2:])
	case "decrypt":
		runDecrypt(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "growattproxy: unknown subcommand %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `growattproxy is a MITM proxy and decoder for Growatt v6 datalogger traffic.

Usage:

  growattproxy start -config ./config.yaml [-logging-level info] [-gops]
  growattproxy decrypt -config ./config.yaml -file ./messages.json

Subcommands:
  start    run the proxy
  decrypt  decode a JSON list of {raw, decrypt} messages offline`)
}

// resolveLoggingLevel applies the precedence spec.md §6 requires: the
// LOG_LEVEL environment variable wins over both the -logging-level flag
// and the configuration file, matching original_source/src/main.rs's
// EnvFilter::builder().with_env_var("LOG_LEVEL").
func resolveLoggingLevel(flagLevel, configLevel string) logger.Level {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		return logger.ParseLevel(env)
	}
	if flagLevel != "" {
		return logger.ParseLevel(flagLevel)
	}
	return logger.ParseLevel(configLevel)
}

func startGops(enabled bool, log logger.Logger) func() {
	if !enabled {
		return func() {}
	}
	if err := agent.Listen(agent.Options{}); err != nil {
		log.Error("gops/agent.Listen failed: %v", err)
		return func() {}
	}
	return agent.Close
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs
}
