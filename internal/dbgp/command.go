package dbgp

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Arg is one option of an outgoing command.
type Arg struct {
	Flag  byte
	Value string
}

// Command is an IDE-to-engine command before encoding.
type Command struct {
	Name string
	Args []Arg
	Data []byte
	// RawData sends Data without base64 encoding (data_encoding=none).
	RawData bool
}

// NewCommand creates a command with no options.
func NewCommand(name string) *Command {
	return &Command{Name: name}
}

// With appends a string option.
func (c *Command) With(flag byte, value string) *Command {
	c.Args = append(c.Args, Arg{Flag: flag, Value: value})
	return c
}

// WithInt appends an integer option.
func (c *Command) WithInt(flag byte, value int) *Command {
	return c.With(flag, strconv.Itoa(value))
}

// WithData sets the data block sent after "--".
func (c *Command) WithData(data []byte) *Command {
	c.Data = data
	return c
}

// Arg returns the value of flag and whether it is set.
func (c *Command) Arg(flag byte) (string, bool) {
	for _, a := range c.Args {
		if a.Flag == flag {
			return a.Value, true
		}
	}
	return "", false
}

// Encode renders the command line with the given transaction id.
func (c *Command) Encode(tid int) string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteString(" -i ")
	b.WriteString(strconv.Itoa(tid))
	for _, a := range c.Args {
		b.WriteString(" -")
		b.WriteByte(a.Flag)
		b.WriteByte(' ')
		b.WriteString(Quote(a.Value))
	}
	if c.Data != nil {
		b.WriteString(" -- ")
		if c.RawData {
			b.Write(c.Data)
		} else {
			b.WriteString(base64.StdEncoding.EncodeToString(c.Data))
		}
	}
	return b.String()
}

// DecodeData decodes the data block of a received command.
func DecodeData(data string, encoding string) ([]byte, error) {
	if encoding != "base64" {
		return []byte(data), nil
	}
	out, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, Errorf(ErrorEncoding, "invalid base64 data: %v", err)
	}
	return out, nil
}
