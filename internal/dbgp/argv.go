package dbgp

import (
	"strconv"
	"strings"
)

// Line2Argv splits a command line into arguments. Double and single
// quotes group text; a backslash escapes the next character. Inside
// quotes a backslash is kept unless it escapes a quote character.
func Line2Argv(line string) ([]string, error) {
	const (
		stateDefault = iota
		stateDouble
		stateSingle
	)

	var (
		argv  []string
		arg   strings.Builder
		inArg bool
		state = stateDefault
	)

	for i := 0; i < len(line); i++ {
		ch := line[i]

		if ch == '\\' && i+1 < len(line) {
			inArg = true
			next := line[i+1]
			if state != stateDefault && next != '"' && next != '\'' {
				arg.WriteByte(ch)
			}
			arg.WriteByte(next)
			i++
			continue
		}

		switch state {
		case stateSingle:
			if ch == '\'' {
				state = stateDefault
			} else {
				arg.WriteByte(ch)
			}
		case stateDouble:
			if ch == '"' {
				state = stateDefault
			} else {
				arg.WriteByte(ch)
			}
		default:
			switch {
			case ch == '"':
				inArg = true
				state = stateDouble
			case ch == '\'':
				inArg = true
				state = stateSingle
			case isSpace(ch):
				if inArg {
					argv = append(argv, arg.String())
					arg.Reset()
					inArg = false
				}
			default:
				inArg = true
				arg.WriteByte(ch)
			}
		}
	}

	if inArg {
		argv = append(argv, arg.String())
	}
	if state != stateDefault {
		kind := "double-quoted"
		if state == stateSingle {
			kind = "single-quoted"
		}
		return nil, Errorf(ErrorCommandParse, "command line is not terminated: unfinished %s segment", kind)
	}
	return argv, nil
}

func isSpace(ch byte) bool {
	switch ch {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// Quote renders value as a single argument that Line2Argv reads back.
// Values without backslashes are double-quoted; otherwise every special
// character is backslash-escaped.
func Quote(value string) string {
	const specials = " \t\n\v\f\r\"'\\"
	if value == "" {
		return `""`
	}
	if !strings.ContainsAny(value, specials) {
		return value
	}

	var b strings.Builder
	if !strings.Contains(value, `\`) {
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(value, `"`, `\"`))
		b.WriteByte('"')
		return b.String()
	}
	for i := 0; i < len(value); i++ {
		if strings.IndexByte(specials, value[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(value[i])
	}
	return b.String()
}

// OptionKind is the value type of a command option.
type OptionKind int

const (
	// OptString takes the raw value.
	OptString OptionKind = iota
	// OptInt requires a decimal integer.
	OptInt
)

// Option describes one command option.
type Option struct {
	Short    byte
	Long     string
	Kind     OptionKind
	Required bool
	Default  string
}

// Args holds the parsed options of a command.
type Args struct {
	// TransactionID is the -i value, or "-1" when absent.
	TransactionID string

	// Data is the text after "--", joined by spaces.
	Data string

	values map[byte]string
	given  map[byte]bool
}

// Has reports whether the option was supplied on the command line.
func (a *Args) Has(opt byte) bool {
	return a.given[opt]
}

// String returns the option value or its default.
func (a *Args) String(opt byte) string {
	return a.values[opt]
}

// Int returns the option value as an int. Values are validated during
// parsing, so a bad value can only come from a default.
func (a *Args) Int(opt byte) int {
	n, _ := strconv.Atoi(a.values[opt])
	return n
}

// transactionOption is implied for every command.
var transactionOption = Option{Short: 'i', Long: "transaction_id", Default: "-1"}

// ParseArgs parses argv (without the command name) against opts.
// Unknown options are ignored together with their value. A repeated
// option fails with ErrorDuplicateArgs; a missing required option or a
// non-integer OptInt value fails with ErrorInvalidArgs.
func ParseArgs(argv []string, opts []Option) (*Args, error) {
	all := make([]Option, 0, len(opts)+1)
	all = append(all, transactionOption)
	all = append(all, opts...)

	args := &Args{
		values: make(map[byte]string, len(all)),
		given:  make(map[byte]bool, len(all)),
	}
	for _, o := range all {
		args.values[o.Short] = o.Default
	}

	lookup := func(tok string) (Option, bool) {
		for _, o := range all {
			if len(tok) == 2 && tok[0] == '-' && tok[1] == o.Short {
				return o, true
			}
			if o.Long != "" && tok == "--"+o.Long {
				return o, true
			}
		}
		return Option{}, false
	}

	var data []string
	for i := 0; i < len(argv); i++ {
		tok := argv[i]
		if tok == "--" {
			data = argv[i+1:]
			break
		}
		if len(tok) < 2 || tok[0] != '-' {
			// stray positional word
			continue
		}

		o, known := lookup(tok)
		hasValue := i+1 < len(argv)
		if !known {
			if hasValue && !strings.HasPrefix(argv[i+1], "-") {
				i++
			}
			continue
		}
		if !hasValue {
			return args, Errorf(ErrorInvalidArgs, "option %s requires a value", tok)
		}
		if args.given[o.Short] {
			return args, Errorf(ErrorDuplicateArgs, "duplicate argument %s", tok)
		}
		i++
		value := strings.TrimSpace(argv[i])
		if o.Kind == OptInt {
			if _, err := strconv.Atoi(value); err != nil {
				return args, Errorf(ErrorInvalidArgs, "invalid argument supplied: %s %s", tok, value)
			}
		}
		args.values[o.Short] = value
		args.given[o.Short] = true
		if o.Short == 'i' {
			args.TransactionID = value
		}
	}

	if args.TransactionID == "" {
		args.TransactionID = args.values['i']
	}

	for _, o := range all {
		if o.Required && !args.given[o.Short] {
			return args, Errorf(ErrorInvalidArgs, "required argument [%c:%s] missing", o.Short, o.Long)
		}
	}

	args.Data = strings.Join(data, " ")
	return args, nil
}

// TransactionIDOf scans raw argv for a transaction id without full parsing.
func TransactionIDOf(argv []string) string {
	for i := 0; i+1 < len(argv); i++ {
		if argv[i] == "-i" || argv[i] == "--transaction_id" {
			return argv[i+1]
		}
	}
	return "-1"
}
