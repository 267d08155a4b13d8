// Package watch implements the wsmon watch CLI (terminal metrics subscriber).
package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"wsmon/internal/metrics"
	"wsmon/pkg/config"
)

// Run connects to a wsmon server and prints each metrics frame. The
// target URL comes from the first argument when given, otherwise it is
// derived from the configured public host and port.
func Run(configPath string, args []string) error {
	url := ""
	if len(args) > 0 {
		url = args[0]
	} else {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		url = cfg.Server.WSURL()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w\nIs 'wsmon serve' running?", url, err)
	}
	defer conn.Close()

	fmt.Printf("Connected to %s — press Ctrl-C to stop\n", url)

	// Rewrite a single status line when stdout is a terminal; plain
	// line-per-sample output when piped.
	interactive := term.IsTerminal(int(os.Stdout.Fd()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			frames <- frame
		}
	}()

	for {
		select {
		case <-sigCh:
			if interactive {
				fmt.Println()
			}
			// Best-effort close handshake; the server prunes us either way.
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil

		case err := <-readErr:
			if interactive {
				fmt.Println()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				fmt.Println("Server closed the connection.")
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)

		case frame := <-frames:
			var rec metrics.Record
			if err := json.Unmarshal(frame, &rec); err != nil {
				fmt.Fprintf(os.Stderr, "Skipping malformed frame: %v\n", err)
				continue
			}
			printRecord(rec, interactive)
		}
	}
}

func printRecord(rec metrics.Record, interactive bool) {
	if rec.Error != "" {
		fmt.Fprintf(os.Stderr, "Sampling error from server: %s\n", rec.Error)
		return
	}

	line := fmt.Sprintf("cpu %5.1f%%  mem %5.1f%%  disk %5.1f%%  read %s/s  write %s/s",
		rec.CPU, rec.Memory, rec.Disk,
		formatBytes(rec.DiskRead), formatBytes(rec.DiskWrite))

	if interactive {
		fmt.Printf("\r\033[K%s", line)
	} else {
		fmt.Printf("%s  %s\n", rec.Timestamp, line)
	}
}

// formatBytes renders a byte rate with a binary unit suffix.
func formatBytes(v float64) string {
	switch {
	case v >= 1<<30:
		return fmt.Sprintf("%.1f GiB", v/(1<<30))
	case v >= 1<<20:
		return fmt.Sprintf("%.1f MiB", v/(1<<20))
	case v >= 1<<10:
		return fmt.Sprintf("%.1f KiB", v/(1<<10))
	default:
		return fmt.Sprintf("%.0f B", v)
	}
}
