// Package gcode is a minimal line-oriented reader for the small subset
// of G-code needed to drive internal/motion: G0/G1 (rapid/linear),
// G2/G3 (arcs), G4 (dwell), M2/M30 (program end/stop), plus axis words
// X/Y/Z/A, feedrate F, arc center offsets I/J, and arc radius R. It is
// an external collaborator to the motion core, not a conforming
// interpreter: no canned cycles, no tool tables, no expression
// evaluation.
package gcode

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the command a parsed Line carries.
type Kind int

const (
	KindRapid Kind = iota // G0
	KindLinear            // G1
	KindArcCW             // G2
	KindArcCCW            // G3
	KindDwell             // G4
	KindProgramStop       // M0/M1
	KindProgramEnd        // M2/M30
	KindComment           // blank or comment-only line
)

// Line is one parsed command. Words absent from the source line carry
// their zero value with the matching Has* flag false, so a modal caller
// can tell "not specified" from "explicitly zero".
type Line struct {
	Kind Kind

	Axes    [4]float64 // X, Y, Z, A
	HasAxis [4]bool

	Feedrate    float64
	HasFeedrate bool

	// Arc center offsets, relative to the arc's start point (I/J, XY
	// plane only — this subset doesn't support IJK on other planes).
	I, J       float64
	HasI, HasJ bool

	// Radius form (R word); mutually exclusive with I/J in well-formed
	// input, but the parser doesn't enforce that. When both are present,
	// Program.Execute uses R and ignores I/J.
	R    float64
	HasR bool

	DwellSeconds float64

	Raw string
}

// ParseLine parses a single line of G-code. Unknown or malformed words
// return an error naming the offending token; a blank or fully-commented
// line returns a Line{Kind: KindComment} with no error.
func ParseLine(raw string) (Line, error) {
	line := Line{Raw: raw}

	stripped := stripComment(raw)
	stripped = strings.TrimSpace(stripped)
	if stripped == "" {
		line.Kind = KindComment
		return line, nil
	}

	tokens, err := tokenize(stripped)
	if err != nil {
		return Line{}, err
	}

	sawCommand := false
	for _, tok := range tokens {
		switch tok.letter {
		case 'G':
			switch tok.value {
			case 0:
				line.Kind = KindRapid
			case 1:
				line.Kind = KindLinear
			case 2:
				line.Kind = KindArcCW
			case 3:
				line.Kind = KindArcCCW
			case 4:
				line.Kind = KindDwell
			default:
				return Line{}, fmt.Errorf("gcode: unsupported G word G%g", tok.value)
			}
			sawCommand = true
		case 'M':
			switch int(tok.value) {
			case 0, 1:
				line.Kind = KindProgramStop
			case 2, 30:
				line.Kind = KindProgramEnd
			default:
				return Line{}, fmt.Errorf("gcode: unsupported M word M%g", tok.value)
			}
			sawCommand = true
		case 'X':
			line.Axes[0], line.HasAxis[0] = tok.value, true
		case 'Y':
			line.Axes[1], line.HasAxis[1] = tok.value, true
		case 'Z':
			line.Axes[2], line.HasAxis[2] = tok.value, true
		case 'A':
			line.Axes[3], line.HasAxis[3] = tok.value, true
		case 'F':
			line.Feedrate, line.HasFeedrate = tok.value, true
		case 'I':
			line.I, line.HasI = tok.value, true
		case 'J':
			line.J, line.HasJ = tok.value, true
		case 'R':
			line.R, line.HasR = tok.value, true
		case 'P':
			line.DwellSeconds = tok.value
		default:
			return Line{}, fmt.Errorf("gcode: unsupported word %c%g", tok.letter, tok.value)
		}
	}

	if !sawCommand {
		if line.HasAxis[0] || line.HasAxis[1] || line.HasAxis[2] || line.HasAxis[3] {
			// Modal move: repeats the last motion command. Callers
			// track modal state themselves; the parser just reports
			// KindComment plus the axis words so the caller can decide.
			line.Kind = KindComment
			return line, nil
		}
		return Line{}, fmt.Errorf("gcode: line has no command word: %q", raw)
	}

	return line, nil
}

type word struct {
	letter byte
	value  float64
}

func tokenize(s string) ([]word, error) {
	var words []word
	i := 0
	for i < len(s) {
		c := s[i]
		if c == ' ' || c == '\t' {
			i++
			continue
		}
		if !isLetter(c) {
			return nil, fmt.Errorf("gcode: unexpected character %q", string(c))
		}
		letter := byte(strings.ToUpper(string(c))[0])
		i++
		start := i
		for i < len(s) && (isDigit(s[i]) || s[i] == '.' || s[i] == '-' || s[i] == '+') {
			i++
		}
		if start == i {
			return nil, fmt.Errorf("gcode: word %c has no numeric value", letter)
		}
		v, err := strconv.ParseFloat(s[start:i], 64)
		if err != nil {
			return nil, fmt.Errorf("gcode: invalid number after %c: %w", letter, err)
		}
		words = append(words, word{letter: letter, value: v})
	}
	return words, nil
}

func isLetter(c byte) bool { return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

// stripComment drops a trailing ';' comment and any '(...)' inline
// comments, matching the two comment styles G-code programs commonly
// mix.
func stripComment(s string) string {
	if idx := strings.IndexByte(s, ';'); idx >= 0 {
		s = s[:idx]
	}
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
