// Package protocol defines the commands exchanged between sessions and
// their JSON wire form.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/shared_scene/utils"
)

type Kind string

const (
	// ownership and transforms
	Select   Kind = "select"
	Deselect Kind = "deselect"
	Matrix   Kind = "matrix"

	// presence
	NewPlayer     Kind = "new_player"
	SetPlayer     Kind = "set_player"
	RemovePlayer  Kind = "remove_player"
	UpdateCamera  Kind = "update_camera"
	UpdatePointer Kind = "update_pointer"
	String        Kind = "string"
)

var kinds = map[Kind]struct{}{
	Select: {}, Deselect: {}, Matrix: {},
	NewPlayer: {}, SetPlayer: {}, RemovePlayer: {},
	UpdateCamera: {}, UpdatePointer: {}, String: {},
}

func (k Kind) Known() bool {
	_, ok := kinds[k]
	return ok
}

// Command is one replicated mutation or presence event. Session is the
// originating session id, stamped by the sender. Revoke marks a deselect
// issued by the arbiter to take back an optimistic local selection.
type Command struct {
	Kind    Kind            `json:"type"`
	Session string          `json:"session,omitempty"`
	Player  string          `json:"player,omitempty"`
	Name    string          `json:"name,omitempty"`
	Matrix  *mgl32.Mat4     `json:"matrix,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Revoke  bool            `json:"revoke,omitempty"`
}

func (c Command) String() string {
	if c.Name != "" {
		return fmt.Sprintf("%s{%s} from %q", c.Kind, c.Name, c.Session)
	}
	return fmt.Sprintf("%s from %q", c.Kind, c.Session)
}

func NewSelect(name string) Command { return Command{Kind: Select, Name: name} }

func NewDeselect(name string) Command { return Command{Kind: Deselect, Name: name} }

func NewMatrix(name string, m mgl32.Mat4) Command {
	return Command{Kind: Matrix, Name: name, Matrix: &m}
}

var ErrMalformedCommand = errors.New("malformed command")

type UnknownKindError struct {
	Kind Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown command kind %q", string(e.Kind))
}

// Validate checks the per-kind required fields.
func (c Command) Validate() error {
	if !c.Kind.Known() {
		return &UnknownKindError{Kind: c.Kind}
	}
	switch c.Kind {
	case Select, Deselect:
		if c.Name == "" {
			return errors.Wrapf(ErrMalformedCommand, "%s without name", c.Kind)
		}
	case Matrix:
		if c.Name == "" {
			return errors.Wrapf(ErrMalformedCommand, "%s without name", c.Kind)
		}
		if c.Matrix == nil {
			return errors.Wrapf(ErrMalformedCommand, "%s{%s} without matrix", c.Kind, c.Name)
		}
		if !utils.Mat4IsFinite(*c.Matrix) {
			return errors.Wrapf(ErrMalformedCommand, "%s{%s} with non-finite matrix", c.Kind, c.Name)
		}
	case NewPlayer, SetPlayer, RemovePlayer:
		if c.Session == "" {
			return errors.Wrapf(ErrMalformedCommand, "%s without session", c.Kind)
		}
	}
	return nil
}

func Encode(c Command) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to encode %v", c)
	}
	return data, nil
}

// Decode parses one command. An unknown kind decodes fine and is reported
// by Validate, so callers can log and drop it.
func Decode(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, errors.Wrapf(ErrMalformedCommand, "%v", err)
	}
	return c, nil
}
