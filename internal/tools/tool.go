// Package tools implements the capabilities an agent can invoke: a registry
// of named tools built once at startup and a per-turn dispatcher that
// resolves model tool calls against it.
//
// Sandbox tools run inside the session's sandbox and are never retried; a
// failing shell command is feedback for the model. Network tools are wrapped
// in the retry policy.
package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Iron-Ham/warren/internal/errors"
	"github.com/Iron-Ham/warren/internal/sandbox"
)

// Sandbox is the part of a sandbox handle the tools use.
type Sandbox interface {
	Exec(ctx context.Context, cmd sandbox.Command) (sandbox.Result, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	Workdir() string
}

// Env is what a tool executes against.
type Env struct {
	Sandbox   Sandbox
	SessionID string
	Branch    string
	// StartRef is the commit the session's branch started from.
	StartRef string
}

// Spec describes a tool.
type Spec struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the arguments object.
	Parameters json.RawMessage
	// SideEffects marks tools that may change the repository.
	SideEffects bool
	// Network marks tools that call remote services.
	Network bool
}

// Result is the output of a tool. Failed is set when the tool ran but the
// action did not succeed (a non-zero exit, a missing file); the output is
// still fed back to the model.
type Result struct {
	Output string
	Failed bool
}

// Tool is a named capability.
type Tool interface {
	Spec() Spec
	Execute(ctx context.Context, args json.RawMessage, env *Env) (Result, error)
}

// param describes one property of an arguments schema.
type param struct {
	Name        string
	Type        string
	Description string
	Optional    bool
}

func str(name, description string) param {
	return param{Name: name, Type: "string", Description: description}
}

// objectSchema builds the JSON schema of an arguments object.
func objectSchema(params ...param) json.RawMessage {
	type property struct {
		Type        string `json:"type"`
		Description string `json:"description,omitempty"`
	}
	schema := struct {
		Type       string              `json:"type"`
		Properties map[string]property `json:"properties"`
		Required   []string            `json:"required,omitempty"`
	}{
		Type:       "object",
		Properties: make(map[string]property, len(params)),
	}
	for _, p := range params {
		schema.Properties[p.Name] = property{Type: p.Type, Description: p.Description}
		if !p.Optional {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	data, _ := json.Marshal(schema)
	return data
}

// decodeArgs unmarshals args into v. Empty args decode as an empty object.
func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return errors.Join(errors.ErrInvalidArguments, err)
	}
	return nil
}

// requireField returns ErrInvalidArguments when value is blank.
func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.Wrapf(errors.ErrInvalidArguments, "%s is required", name)
	}
	return nil
}
