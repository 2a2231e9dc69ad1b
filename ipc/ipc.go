// Package ipc provides the daemon's local control surface: a unix
// stream socket speaking newline-delimited JSON, one request per
// connection.
package ipc

import "encoding/json"

// Request is one control command.
type Request struct {
	// ID optionally correlates a response for logging.
	ID string `json:"id,omitempty"`
	// Command selects the handler, e.g. "status" or "queue-list".
	Command string `json:"command"`
	// Args carries command-specific parameters.
	Args json.RawMessage `json:"args,omitempty"`
}

// Response is the single reply to a request.
type Response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// RunArgs are the parameters of the "run" command.
type RunArgs struct {
	Agent   string `json:"agent"`
	Project string `json:"project"`
	Task    string `json:"task"`
	Mode    string `json:"mode,omitempty"`
}

// ProjectArgs are the parameters of projects-add / projects-remove.
type ProjectArgs struct {
	Path string `json:"path,omitempty"`
	Name string `json:"name,omitempty"`
}
