package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel        string
	LogFormat       string
	LogFile         string
	DebugSource     bool
	DebugAnalyzer   bool
	DebugEncoder    bool
	DebugPipeline   bool
	DebugTrack      bool
	DebugSignaling  bool
	DebugStreamer   bool
	DebugAll        bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	// Debug category flags
	fs.BoolVar(&f.DebugSource, "debug-source", false,
		"Enable source/decode debugging (RTSP probe, reconnect backoff, frame reads)")
	fs.BoolVar(&f.DebugAnalyzer, "debug-analyzer", false,
		"Enable analyzer debugging (preprocess/run/postprocess timings, hot-swap)")
	fs.BoolVar(&f.DebugEncoder, "debug-encoder", false,
		"Enable encoder debugging (codec selection, packet sizes)")
	fs.BoolVar(&f.DebugPipeline, "debug-pipeline", false,
		"Enable per-frame pipeline worker debugging (drops, state transitions)")
	fs.BoolVar(&f.DebugTrack, "debug-track", false,
		"Enable track manager debugging (subscribe/unsubscribe/reap)")
	fs.BoolVar(&f.DebugSignaling, "debug-signaling", false,
		"Enable WebSocket signaling debugging (auth, message routing)")
	fs.BoolVar(&f.DebugStreamer, "debug-streamer", false,
		"Enable WebRTC streamer debugging (ICE, SDP, data channel framing)")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	// Parse log level
	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	// Parse format
	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	// Set output file
	cfg.OutputFile = f.LogFile

	// Enable debug categories
	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		// Force debug level when any debug category is enabled
		cfg.Level = LevelDebug
	} else {
		if f.DebugSource {
			cfg.EnableCategory(DebugSource)
			cfg.Level = LevelDebug
		}
		if f.DebugAnalyzer {
			cfg.EnableCategory(DebugAnalyzer)
			cfg.Level = LevelDebug
		}
		if f.DebugEncoder {
			cfg.EnableCategory(DebugEncoder)
			cfg.Level = LevelDebug
		}
		if f.DebugPipeline {
			cfg.EnableCategory(DebugPipeline)
			cfg.Level = LevelDebug
		}
		if f.DebugTrack {
			cfg.EnableCategory(DebugTrack)
			cfg.Level = LevelDebug
		}
		if f.DebugSignaling {
			cfg.EnableCategory(DebugSignaling)
			cfg.Level = LevelDebug
		}
		if f.DebugStreamer {
			cfg.EnableCategory(DebugStreamer)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./visionrelay-server

  Enable DEBUG level:
    ./visionrelay-server --log-level debug
    ./visionrelay-server -l debug

  Log to file:
    ./visionrelay-server --log-file server.log
    ./visionrelay-server -o server.log

  JSON format for structured logging:
    ./visionrelay-server --log-format json -o server.json

  Debug pipeline frame drops only:
    ./visionrelay-server --debug-pipeline

  Debug WebRTC negotiation only:
    ./visionrelay-server --debug-streamer

  Debug multiple categories:
    ./visionrelay-server --debug-pipeline --debug-track --debug-signaling

  Debug everything:
    ./visionrelay-server --debug-all -o debug.log

  Production logging (WARN level, JSON to file):
    ./visionrelay-server -l warn --log-format json -o production.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		if f.DebugSource {
			debugCategories = append(debugCategories, "source")
		}
		if f.DebugAnalyzer {
			debugCategories = append(debugCategories, "analyzer")
		}
		if f.DebugEncoder {
			debugCategories = append(debugCategories, "encoder")
		}
		if f.DebugPipeline {
			debugCategories = append(debugCategories, "pipeline")
		}
		if f.DebugTrack {
			debugCategories = append(debugCategories, "track")
		}
		if f.DebugSignaling {
			debugCategories = append(debugCategories, "signaling")
		}
		if f.DebugStreamer {
			debugCategories = append(debugCategories, "streamer")
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
