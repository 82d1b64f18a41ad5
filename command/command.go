// Package command classifies decoded resp.Objects into the small set of
// user commands and internal net-commands the engine understands.
package command

import (
	"errors"
	"unicode/utf8"

	"github.com/mickamy/kvrelay/resp"
)

// Op names a user command verb.
type Op int

const (
	OpGet Op = iota
	OpSet
	OpRemove
)

func (op Op) String() string {
	switch op {
	case OpGet:
		return "get"
	case OpSet:
		return "set"
	case OpRemove:
		return "remove"
	}
	return "unknown"
}

// Command is a validated user intent: Get(key), Set(key, value), or
// Remove(key).
type Command struct {
	Op    Op
	Key   string
	Value string // only meaningful for OpSet
}

// Mutating reports whether executing the command can change store state.
// Get is never mutating; Set and Remove are always classified as
// possibly-mutating (Remove's actual mutation depends on whether the key
// existed, but classification happens before execution).
func (c Command) Mutating() bool {
	return c.Op == OpSet || c.Op == OpRemove
}

// NetKind identifies an internal control message.
type NetKind int

const (
	NetLeader NetKind = iota
)

// NetCommand is an internal control message sent between cluster nodes.
// Leader is the only variant: a primary upgrading a follower connection.
type NetCommand struct {
	Kind     NetKind
	Password string
}

// ErrNotNetCommand means obj is shaped like a user command rather than a
// net-command: a distinct case from ErrMalformedNetCommand so a caller
// that already tried ParseNetCommand can move on to ParseCommand without
// misreporting a genuine protocol error.
var ErrNotNetCommand = errors.New("command: not a net-command")

// ErrMalformedNetCommand means obj's head names a net-command but the
// shape (arity, argument types) is wrong.
var ErrMalformedNetCommand = errors.New("command: malformed net-command")

// ErrMalformedCommand covers every way a user command Array can fail
// validation: wrong arity, unknown verb, a non-string head, or a nil
// BulkString argument.
var ErrMalformedCommand = errors.New("command: malformed command")

// ErrNotUTF8 is returned by ParseCommand when an argument's bytes are not
// valid UTF-8 text, per the data model's requirement that keys and values
// are UTF-8 text.
var ErrNotUTF8 = errors.New("command: argument is not valid utf-8")

// ParseNetCommand recognizes obj as a NetCommand. It returns
// ErrNotNetCommand when obj's head is not "leader", and
// ErrMalformedNetCommand when the head is "leader" but the arity or
// argument type is wrong.
func ParseNetCommand(obj resp.Object) (NetCommand, error) {
	items, ok := obj.Items()
	if !ok || len(items) == 0 {
		return NetCommand{}, ErrNotNetCommand
	}
	head, ok := items[0].Text()
	if !ok {
		return NetCommand{}, ErrNotNetCommand
	}
	if head != "leader" {
		return NetCommand{}, ErrNotNetCommand
	}
	if len(items) != 2 {
		return NetCommand{}, ErrMalformedNetCommand
	}
	pw, err := argText(items[1])
	if err != nil {
		return NetCommand{}, ErrMalformedNetCommand
	}
	return NetCommand{Kind: NetLeader, Password: pw}, nil
}

// ParseCommand validates obj as a user Command against the recognized
// (name, arity) pairs: get/1, set/2, remove/1.
func ParseCommand(obj resp.Object) (Command, error) {
	items, ok := obj.Items()
	if !ok || len(items) == 0 {
		return Command{}, ErrMalformedCommand
	}
	head, ok := items[0].Text()
	if !ok {
		return Command{}, ErrMalformedCommand
	}

	args := items[1:]
	switch head {
	case "get":
		if len(args) != 1 {
			return Command{}, ErrMalformedCommand
		}
		key, err := argText(args[0])
		if err != nil {
			return Command{}, err
		}
		return Command{Op: OpGet, Key: key}, nil
	case "set":
		if len(args) != 2 {
			return Command{}, ErrMalformedCommand
		}
		key, err := argText(args[0])
		if err != nil {
			return Command{}, err
		}
		val, err := argText(args[1])
		if err != nil {
			return Command{}, err
		}
		return Command{Op: OpSet, Key: key, Value: val}, nil
	case "remove":
		if len(args) != 1 {
			return Command{}, ErrMalformedCommand
		}
		key, err := argText(args[0])
		if err != nil {
			return Command{}, err
		}
		return Command{Op: OpRemove, Key: key}, nil
	default:
		return Command{}, ErrMalformedCommand
	}
}

// argText extracts a command argument's text. Both SimpleString and
// present BulkString arguments are accepted; BulkString(nil) is rejected,
// as is any byte payload that is not valid UTF-8.
func argText(o resp.Object) (string, error) {
	if s, ok := o.Text(); ok {
		return s, nil
	}
	if b, ok := o.Bulk(); ok {
		if !utf8.Valid(b) {
			return "", ErrNotUTF8
		}
		return string(b), nil
	}
	return "", ErrMalformedCommand
}

// Encode serializes cmd back to the wire Array a client would have sent —
// used by the WAL (which journals mutating commands verbatim) and by
// tests.
func Encode(cmd Command) resp.Object {
	switch cmd.Op {
	case OpGet:
		return resp.Array([]resp.Object{resp.SimpleString("get"), resp.BulkString([]byte(cmd.Key))})
	case OpSet:
		return resp.Array([]resp.Object{resp.SimpleString("set"), resp.BulkString([]byte(cmd.Key)), resp.BulkString([]byte(cmd.Value))})
	case OpRemove:
		return resp.Array([]resp.Object{resp.SimpleString("remove"), resp.BulkString([]byte(cmd.Key))})
	}
	return resp.Array(nil)
}

// EncodeNetCommand serializes a NetCommand back to the wire Array form.
func EncodeNetCommand(nc NetCommand) resp.Object {
	return resp.Array([]resp.Object{resp.SimpleString("leader"), resp.BulkString([]byte(nc.Password))})
}
