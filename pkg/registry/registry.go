// Package registry implements the command registry: a named-command
// lookup table carrying a declarative flag schema per command, and a
// dispatch loop that allocates a process, parses flags, watches for
// terminal interrupts, and translates the command body's return into
// an exit code.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/webos-run/webos/pkg/process"
)

// OptionType enumerates the value kinds a declarative flag may take.
type OptionType int

const (
	OptionBool OptionType = iota
	OptionString
	OptionInt
)

// Option describes one declarative flag.
type Option struct {
	Name          string
	Alias         string // single-letter short form, e.g. "l" for "--long"
	Type          OptionType
	Multiple      bool // flag may be repeated, accumulating values
	DefaultOption bool // bare positional args bind here if no flag matches
	Description   string
}

// ParsedArgs is the result of parsing argv against a Command's Options.
type ParsedArgs struct {
	Flags     map[string][]string
	Positional []string
}

// Bool reports whether a boolean flag was set.
func (p ParsedArgs) Bool(name string) bool {
	_, ok := p.Flags[name]
	return ok
}

// String returns the last value given for name, or "".
func (p ParsedArgs) String(name string) string {
	vals := p.Flags[name]
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}

// All returns every value given for a repeatable flag.
func (p ParsedArgs) All(name string) []string {
	return p.Flags[name]
}

// RunFunc is a command's body. It receives the resolved ParsedArgs and
// its Process (for stdin/out/err, FS, and interrupt subscription) and
// returns an exit code.
type RunFunc func(ctx context.Context, args ParsedArgs, proc *process.Process) int

// Command is a named entity the registry can dispatch to.
type Command struct {
	Name        string
	Description string
	Options     []Option
	Run         RunFunc
}

// Registry is the kernel's table of known commands, keyed by name.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{commands: map[string]*Command{}}
}

// Register adds or replaces a command.
func (r *Registry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name] = cmd
}

// Lookup finds a command by name.
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[name]
	return c, ok
}

// Names returns every registered command name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseArgs parses argv against a command's declared Options. Long
// flags are "--name" or "--name=value"; short flags are "-a"; a bare
// "--" stops flag parsing and everything after is positional.
func ParseArgs(opts []Option, argv []string) (ParsedArgs, error) {
	byAlias := map[string]*Option{}
	byName := map[string]*Option{}
	var defaultOpt *Option
	for i := range opts {
		o := &opts[i]
		byName[o.Name] = o
		if o.Alias != "" {
			byAlias[o.Alias] = o
		}
		if o.DefaultOption {
			defaultOpt = o
		}
	}

	out := ParsedArgs{Flags: map[string][]string{}}
	stopFlags := false

	for i := 0; i < len(argv); i++ {
		tok := argv[i]
		if stopFlags || tok == "" || tok[0] != '-' || tok == "-" {
			out.Positional = append(out.Positional, tok)
			continue
		}
		if tok == "--" {
			stopFlags = true
			continue
		}

		var opt *Option
		var inlineVal string
		hasInline := false

		if len(tok) >= 2 && tok[1] == '-' {
			name := tok[2:]
			if idx := strings.IndexByte(name, '='); idx >= 0 {
				inlineVal = name[idx+1:]
				name = name[:idx]
				hasInline = true
			}
			opt = byName[name]
			if opt == nil {
				return out, fmt.Errorf("registry: unknown flag --%s", name)
			}
		} else {
			alias := tok[1:]
			opt = byAlias[alias]
			if opt == nil {
				return out, fmt.Errorf("registry: unknown flag -%s", alias)
			}
		}

		if opt.Type == OptionBool {
			out.Flags[opt.Name] = append(out.Flags[opt.Name], "true")
			continue
		}

		var val string
		if hasInline {
			val = inlineVal
		} else {
			if i+1 >= len(argv) {
				return out, fmt.Errorf("registry: flag %q requires a value", opt.Name)
			}
			i++
			val = argv[i]
		}
		if !opt.Multiple {
			out.Flags[opt.Name] = []string{val}
		} else {
			out.Flags[opt.Name] = append(out.Flags[opt.Name], val)
		}
	}

	if defaultOpt != nil && len(out.Positional) > 0 {
		out.Flags[defaultOpt.Name] = append(out.Flags[defaultOpt.Name], out.Positional...)
	}

	return out, nil
}
