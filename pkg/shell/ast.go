// Package shell implements the POSIX-style shell: a recursive-descent
// parser over a single input line, five-stage left-to-right expansion,
// pipeline construction over pkg/stream pipes, builtin dispatch, and
// history persisted to $HOME/.shell_history.
package shell

// Redirection is one `<file`, `>file`, `>>file`, `2>file`, or `2>&1`
// clause attached to a Command.
type Redirection struct {
	Kind   RedirKind
	Target string // filename, or "&1"/"&2" for descriptor aliasing
}

// RedirKind enumerates the redirection forms: <, >, >>, 2>, 2>&1.
type RedirKind int

const (
	RedirIn       RedirKind = iota // <file
	RedirOut                       // >file
	RedirAppend                    // >>file
	RedirErr                       // 2>file
	RedirErrToOut                  // 2>&1
)

// Word is a single token before expansion, tagged with its quoting so
// expansion (pkg/shell/expand.go) can apply the right rules: unquoted
// words undergo glob + word splitting, double-quoted words undergo
// parameter/command substitution only, single-quoted words are literal.
type Word struct {
	Text  string
	Quote QuoteKind
}

// QuoteKind is how a Word was written in the source line.
type QuoteKind int

const (
	Unquoted QuoteKind = iota
	DoubleQuoted
	SingleQuoted
)

// Command is one stage of a Pipeline: a command name, its arguments,
// per-command redirections, and any leading KEY=VALUE assignments
// stripped off before dispatch.
type Command struct {
	Assignments map[string]Word
	Words       []Word
	Redirs      []Redirection
}

// Operator joins two pipelines in a Line: ;, &&, or ||.
type Operator int

const (
	OpNone Operator = iota
	OpSeq           // ;
	OpAnd           // &&
	OpOr            // ||
)

// Pipeline is a sequence of Commands joined by `|`, optionally run in
// the background (a trailing `&`).
type Pipeline struct {
	Commands   []Command
	Background bool
}

// Stage is one Pipeline paired with the Operator that preceded it (or
// OpNone for the first stage in a Line).
type Stage struct {
	Op       Operator
	Pipeline Pipeline
}

// Line is the parsed form of a single input line: a sequence of
// Pipelines joined by `;`, `&&`, `||`.
type Line struct {
	Stages []Stage
}
