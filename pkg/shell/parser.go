package shell

import (
	"fmt"
	"strings"
)

// Parse tokenizes and recursive-descent parses a single input line
// into a Line: pipelines of commands joined by `|`, sequenced with
// `;`, `&&`, or `||`, with an optional trailing `&`.
func Parse(line string) (Line, error) {
	toks, err := lex(line)
	if err != nil {
		return Line{}, err
	}
	p := &parser{toks: toks}
	return p.parseLine()
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token  { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) parseLine() (Line, error) {
	var l Line
	if p.peek().kind == tokEOF {
		return l, nil
	}

	pipeline, err := p.parsePipeline()
	if err != nil {
		return l, err
	}
	l.Stages = append(l.Stages, Stage{Op: OpNone, Pipeline: pipeline})

	for {
		var op Operator
		switch p.peek().kind {
		case tokSeq:
			op = OpSeq
		case tokAnd:
			op = OpAnd
		case tokOr:
			op = OpOr
		case tokEOF:
			return l, nil
		default:
			return l, fmt.Errorf("shell: unexpected token in %q", strings.TrimSpace(describeRemainder(p)))
		}
		p.advance()
		if p.peek().kind == tokEOF {
			// trailing `;` etc is fine, nothing more to parse.
			return l, nil
		}
		pipeline, err := p.parsePipeline()
		if err != nil {
			return l, err
		}
		l.Stages = append(l.Stages, Stage{Op: op, Pipeline: pipeline})
	}
}

func (p *parser) parsePipeline() (Pipeline, error) {
	var pl Pipeline

	cmd, err := p.parseCommand()
	if err != nil {
		return pl, err
	}
	pl.Commands = append(pl.Commands, cmd)

	for p.peek().kind == tokPipe {
		p.advance()
		cmd, err := p.parseCommand()
		if err != nil {
			return pl, err
		}
		pl.Commands = append(pl.Commands, cmd)
	}

	if p.peek().kind == tokBackground {
		pl.Background = true
		p.advance()
	}

	return pl, nil
}

// parseCommand consumes leading NAME=VALUE assignments, then words and
// redirection clauses, stopping at `|`, `;`, `&&`, `||`, `&`, or EOF.
func (p *parser) parseCommand() (Command, error) {
	cmd := Command{Assignments: map[string]Word{}}

	for p.peek().kind == tokWord && isAssignment(p.peek().word.Text) {
		w := p.advance().word
		k, v, _ := strings.Cut(w.Text, "=")
		cmd.Assignments[k] = Word{Text: v, Quote: w.Quote}
	}

	for {
		switch p.peek().kind {
		case tokWord:
			cmd.Words = append(cmd.Words, p.advance().word)

		case tokRedirIn:
			p.advance()
			target, err := p.expectWord()
			if err != nil {
				return cmd, fmt.Errorf("shell: expected filename after `<`: %w", err)
			}
			cmd.Redirs = append(cmd.Redirs, Redirection{Kind: RedirIn, Target: target})

		case tokRedirOut:
			p.advance()
			target, err := p.expectWord()
			if err != nil {
				return cmd, fmt.Errorf("shell: expected filename after `>`: %w", err)
			}
			cmd.Redirs = append(cmd.Redirs, Redirection{Kind: RedirOut, Target: target})

		case tokRedirAppend:
			p.advance()
			target, err := p.expectWord()
			if err != nil {
				return cmd, fmt.Errorf("shell: expected filename after `>>`: %w", err)
			}
			cmd.Redirs = append(cmd.Redirs, Redirection{Kind: RedirAppend, Target: target})

		case tokRedir2Err:
			p.advance()
			target, err := p.expectWord()
			if err != nil {
				return cmd, fmt.Errorf("shell: expected filename after `2>`: %w", err)
			}
			cmd.Redirs = append(cmd.Redirs, Redirection{Kind: RedirErr, Target: target})

		case tokRedir2ToOut:
			p.advance()
			cmd.Redirs = append(cmd.Redirs, Redirection{Kind: RedirErrToOut, Target: "&1"})

		default:
			if len(cmd.Words) == 0 && len(cmd.Assignments) == 0 {
				return cmd, fmt.Errorf("shell: empty command")
			}
			return cmd, nil
		}
	}
}

func (p *parser) expectWord() (string, error) {
	if p.peek().kind != tokWord {
		return "", fmt.Errorf("shell: expected word, got operator")
	}
	return p.advance().word.Text, nil
}

// isAssignment reports whether an unquoted bare word looks like
// NAME=VALUE: a leading identifier character, an `=`, and no spaces
// (spaces would already have split it into separate words by lex).
func isAssignment(text string) bool {
	eq := strings.IndexByte(text, '=')
	if eq <= 0 {
		return false
	}
	name := text[:eq]
	for i, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func describeRemainder(p *parser) string {
	var b strings.Builder
	for i := p.pos; i < len(p.toks) && p.toks[i].kind != tokEOF; i++ {
		if p.toks[i].kind == tokWord {
			b.WriteString(p.toks[i].word.Text)
		}
		b.WriteByte(' ')
	}
	return b.String()
}
