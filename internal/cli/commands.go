// Package cli implements the interactive command-line interface for the
// tracker: live zone status, forced reconnects, and shutdown.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/gge-tracker/gge-tracker-sub003/internal/config"
	"github.com/gge-tracker/gge-tracker-sub003/internal/directory"
	"github.com/gge-tracker/gge-tracker-sub003/internal/events"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg *config.Config
	bus *events.Bus
	dir *directory.Directory
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, bus *events.Bus, dir *directory.Directory) *CLI {
	return &CLI{
		cfg: cfg,
		bus: bus,
		dir: dir,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nTracker CLI ready. Type 'help' for available commands.")

	reader := bufio.NewReader(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("tracker> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus(args)
	case "reconnect":
		return c.cmdReconnect(args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down tracker...")
		c.bus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println()
	fmt.Println("  status [zone]      Show status of all or one zone connection")
	fmt.Println("  reconnect [zone]   Force a reconnect cycle")
	fmt.Println("  quit               Shutdown the tracker")
	fmt.Println("  help               Show this help message")
	fmt.Println()
}

// printStatus displays connection status in a formatted table.
func (c *CLI) printStatus(args []string) {
	statuses := c.dir.Status()

	if len(args) > 0 {
		for _, st := range statuses {
			if st.Zone == args[0] {
				c.printZoneDetail(st)
				return
			}
		}
		fmt.Printf("Unknown zone %s\n", args[0])
		return
	}

	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Zone", "Variant", "Status", "Reconnects"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, st := range statuses {
		status := "OFFLINE"
		if st.Connected {
			status = "CONNECTED"
		}
		tw.Append([]string{
			st.Zone,
			st.Variant,
			status,
			fmt.Sprintf("%d", st.Attempts),
		})
	}

	tw.Render()
	fmt.Println()
}

// printZoneDetail prints detailed info for a single zone.
func (c *CLI) printZoneDetail(st events.ZoneStatus) {
	fmt.Printf("\n  Zone:        %s\n", st.Zone)
	fmt.Printf("  Variant:     %s\n", st.Variant)
	fmt.Printf("  Connected:   %v\n", st.Connected)
	fmt.Printf("  Reconnects:  %d\n", st.Attempts)
	fmt.Println()
}

func (c *CLI) cmdReconnect(args []string) error {
	if len(args) > 0 {
		conn := c.dir.Get(args[0])
		if conn == nil {
			return fmt.Errorf("unknown zone %s", args[0])
		}
		conn.Engine.Restart()
		fmt.Printf("Reconnect forced for %s\n", args[0])
		return nil
	}

	c.dir.RestartAll()
	fmt.Println("Reconnect forced for all zones")
	return nil
}
