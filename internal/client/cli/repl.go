package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// execIface defines the command surface the REPL dispatches to. App
// satisfies it; tests provide a stub.
type execIface interface {
	Vehicles(ctx context.Context, args []string) error
	AddVehicle(ctx context.Context, args []string) error
	EditVehicle(ctx context.Context, args []string) error
	DeleteVehicle(ctx context.Context, args []string) error
	Services(ctx context.Context, args []string) error
	AddService(ctx context.Context, args []string) error
	DeleteService(ctx context.Context, args []string) error
	Stats(ctx context.Context, args []string) error
	Status(ctx context.Context, args []string) error
	Sync(ctx context.Context, args []string) error
	Backup(ctx context.Context, args []string) error
	Token(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  vehicles                      list vehicles
  addvehicle                    add a vehicle
  editvehicle <id>              edit a vehicle
  rmvehicle <id> [--cascade]    delete a vehicle (and its services)
  services [vehicle-id]         list service records
  addservice <vehicle-id>       add a service record
  rmservice <id>                delete a service record
  stats [vehicle-id]            cost totals
  status                        sync status
  sync                          sync now, retrying failed changes
  backup                        upload a snapshot to object storage
  token                         set a new access token
  exit | quit                   leave the program`

// runREPL reads commands line by line from reader and dispatches them to a.
// Command errors are printed and never end the loop; it exits on EOF, on
// "exit"/"quit" or when ctx is done.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader, w io.Writer) {
	handlers := map[string]func(context.Context, []string) error{
		"vehicles":    a.Vehicles,
		"v":           a.Vehicles,
		"addvehicle":  a.AddVehicle,
		"editvehicle": a.EditVehicle,
		"rmvehicle":   a.DeleteVehicle,
		"services":    a.Services,
		"s":           a.Services,
		"addservice":  a.AddService,
		"rmservice":   a.DeleteService,
		"stats":       a.Stats,
		"status":      a.Status,
		"sync":        a.Sync,
		"backup":      a.Backup,
		"token":       a.Token,
	}

	for ctx.Err() == nil {
		fmt.Fprintf(w, "gk %s> ", statusFn())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			fmt.Fprintln(w, helpText)
			continue
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		}

		h, ok := handlers[cmd]
		if !ok {
			fmt.Fprintln(w, "Unknown command:", cmd)
			continue
		}
		if err := h(ctx, args); err != nil {
			fmt.Fprintln(w, "Error:", err)
		}
	}
}
