package datatree

import (
	"fmt"
	"strings"
)

// Step is one step of a parsed XPath: an optional module prefix, a node
// name (or "*" for a wildcard), whether it was reached via "//", and any
// key-equality predicates attached to it (spec.md §4.9's static predicate
// pruning operates entirely on these).
type Step struct {
	Module     string
	Name       string
	Descendant bool // true if this step was introduced by "//"
	Predicates map[string]string
}

// ParseXPath parses a restricted XPath subset: "/mod:name[key='val']/..."
// with optional wildcard names and "//" descendant steps. This is not a
// general XPath 1.0 parser — it covers exactly the shapes spec.md's
// examples use (module-qualified steps, list-key equality predicates).
func ParseXPath(xpath string) ([]Step, error) {
	if xpath == "" {
		return nil, nil
	}
	if !strings.HasPrefix(xpath, "/") {
		return nil, fmt.Errorf("xpath: must be absolute, got %q", xpath)
	}

	var steps []Step
	descendant := false
	i := 1
	for i < len(xpath) {
		if xpath[i] == '/' {
			descendant = true
			i++
			continue
		}
		// consume up to the next unescaped '/' that isn't inside a '[...]'
		start := i
		depth := 0
		for i < len(xpath) {
			switch xpath[i] {
			case '[':
				depth++
			case ']':
				depth--
			case '/':
				if depth == 0 {
					goto doneStep
				}
			}
			i++
		}
	doneStep:
		step, err := parseStep(xpath[start:i])
		if err != nil {
			return nil, err
		}
		step.Descendant = descendant
		steps = append(steps, step)
		descendant = false
		if i < len(xpath) {
			i++ // skip the '/' that ended this step; a second '/' means "//"
		}
	}
	return steps, nil
}

func parseStep(s string) (Step, error) {
	var step Step
	step.Predicates = make(map[string]string)

	namePart := s
	if idx := strings.IndexByte(s, '['); idx >= 0 {
		namePart = s[:idx]
		preds := s[idx:]
		for len(preds) > 0 {
			open := strings.IndexByte(preds, '[')
			if open < 0 {
				break
			}
			close := strings.IndexByte(preds, ']')
			if close < 0 {
				return step, fmt.Errorf("xpath: unterminated predicate in %q", s)
			}
			body := preds[open+1 : close]
			key, val, ok := parsePredicateEquality(body)
			if ok {
				step.Predicates[key] = val
			}
			preds = preds[close+1:]
		}
	}

	if idx := strings.IndexByte(namePart, ':'); idx >= 0 {
		step.Module = namePart[:idx]
		step.Name = namePart[idx+1:]
	} else {
		step.Name = namePart
	}
	if step.Name == "" {
		return step, fmt.Errorf("xpath: empty step name in %q", s)
	}
	return step, nil
}

// parsePredicateEquality recognizes key='literal' or key="literal"; any
// other predicate shape (positional index, function call) is reported as
// not-an-equality so callers can treat it conservatively as required.
func parsePredicateEquality(body string) (key, val string, ok bool) {
	eq := strings.IndexByte(body, '=')
	if eq < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(body[:eq])
	rawVal := strings.TrimSpace(body[eq+1:])
	if len(rawVal) < 2 {
		return "", "", false
	}
	quote := rawVal[0]
	if (quote != '\'' && quote != '"') || rawVal[len(rawVal)-1] != quote {
		return "", "", false
	}
	return key, rawVal[1 : len(rawVal)-1], true
}

// Eval walks t matching steps in order, returning every node reached. A
// wildcard name ("*") matches any node name at that position; predicates
// restrict matches to list entries whose key values equal the predicate's.
func Eval(t *Tree, steps []Step) []*Node {
	if len(steps) == 0 {
		return nil
	}
	first := steps[0]
	root, ok := t.Modules[moduleOrDefault(first, "")]
	var current []*Node
	if ok && matchesStep(root, first, "") {
		current = []*Node{root}
	} else {
		// try every module root if the first step's module wasn't found
		// directly (xpath module prefix may name a different top node).
		for mod, r := range t.Modules {
			if matchesStep(r, first, mod) {
				current = append(current, r)
			}
		}
	}

	for _, step := range steps[1:] {
		var next []*Node
		for _, n := range current {
			next = append(next, childrenMatching(n, step)...)
		}
		current = next
	}
	return current
}

func moduleOrDefault(s Step, fallback string) string {
	if s.Module != "" {
		return s.Module
	}
	return fallback
}

func matchesStep(n *Node, s Step, actualModule string) bool {
	if s.Module != "" && n.Module != "" && s.Module != actualModule && s.Module != n.Module {
		return false
	}
	if s.Name != "*" && n.Name != s.Name {
		return false
	}
	if len(s.Predicates) > 0 && !n.matchesKeys(s.Predicates) {
		return false
	}
	return true
}

func childrenMatching(n *Node, s Step) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if matchesStep(c, s, c.Module) {
			out = append(out, c)
		}
		if s.Descendant {
			out = append(out, childrenMatching(c, s)...)
		}
	}
	return out
}
