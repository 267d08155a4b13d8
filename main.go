// wsmon — Real-Time System Metrics Broadcaster
//
// Usage:
//
//	wsmon serve  — run the metrics WebSocket server
//	wsmon watch  — subscribe to a running server from the terminal
package main

import (
	"fmt"
	"os"

	"wsmon/cmd/serve"
	"wsmon/cmd/watch"
)

const (
	defaultSystemPath = "/etc/wsmon/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath := ""

	// Parse --config flag if present
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			args = append(args[:i], args[i+2:]...)
			i--
			continue
		}
		if len(arg) > 9 && arg[:9] == "--config=" {
			configPath = arg[9:]
			args = append(args[:i], args[i+1:]...)
			i--
			continue
		}
	}

	// Auto-discover config if not specified
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else {
			configPath = defaultSystemPath
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	var err error

	switch subcommand {
	case "serve":
		err = serve.Run(configPath)
	case "watch":
		err = watch.Run(configPath, args[1:])
	case "edit":
		err = serve.EditConfig(configPath)
	case "version":
		fmt.Printf("wsmon v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`wsmon v%s — Real-Time System Metrics Broadcaster

Usage:
  wsmon <command> [--config <path>]

Commands:
  serve    Start the metrics WebSocket server
  watch    Subscribe to a server and print metrics (optionally: watch <ws-url>)
  edit     Edit the configuration file in your system editor
  version  Print version information
  help     Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./config.toml, then %s)

Environment overrides:
  WS_HOST, WS_PORT, PUBLIC_HOST, PUBLIC_PORT, ALLOWED_ORIGINS,
  UPDATE_INTERVAL, USE_WSS, STATIC_DIR, LOG_LEVEL

Examples:
  wsmon serve                           # Serve metrics on :8080 with default config
  WS_PORT=9000 wsmon serve              # Override the bind port from the environment
  wsmon watch ws://localhost:8080/ws/metrics

`, version, defaultSystemPath)
}
