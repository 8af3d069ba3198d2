// Command diagnose probes an RTSP source URI without opening a decode
// pipeline: it performs the OPTIONS/DESCRIBE handshake, reports reachability,
// auth failures, and the media tracks/codecs advertised in the SDP answer.
// Useful for answering "why won't this camera subscribe" before reaching for
// the full server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethan/visionrelay/pkg/logger"
	"github.com/ethan/visionrelay/pkg/rtsp"
)

func main() {
	fs := flag.NewFlagSet("diagnose", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	timeout := fs.Duration("timeout", 10*time.Second, "probe timeout")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <rtsp-url>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Probes an RTSP source's reachability and advertised media tracks.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	uri := fs.Arg(0)

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	prober := rtsp.NewProber(log.Logger)

	log.Info("probing source", "uri", uri, "timeout", timeout.String())
	start := time.Now()
	tracks, err := prober.Probe(ctx, uri)
	elapsed := time.Since(start)

	if err != nil {
		fmt.Printf("UNREACHABLE: %v (after %s)\n", err, elapsed.Round(time.Millisecond))
		os.Exit(1)
	}

	fmt.Printf("REACHABLE (%s)\n", elapsed.Round(time.Millisecond))
	if len(tracks) == 0 {
		fmt.Println("no media tracks advertised in SDP answer")
		return
	}

	fmt.Println("media tracks:")
	for _, t := range tracks {
		control := t.Control
		if control == "" {
			control = "(none)"
		}
		fmt.Printf("  - %-6s payload_type=%-3d control=%s\n", strings.ToLower(t.Type), t.PayloadType, control)
	}
}
