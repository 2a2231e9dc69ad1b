// Package commands provides the overseer CLI subcommands. Each command
// is a thin IPC client against a running daemon; a daemon that is not
// running surfaces as a non-zero exit.
package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/c360studio/overseer/ipc"
)

// call performs one IPC round trip and decodes the payload into v.
func call(socketPath, command string, args, v any) error {
	data, err := ipc.NewClient(socketPath).Call(command, args)
	if err != nil {
		return err
	}
	if v == nil || data == nil {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed daemon response: %w", err)
	}
	return nil
}

// printJSON pretty-prints a payload to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
