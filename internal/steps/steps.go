package steps

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionType is the closed set of semantic actions a step can carry.
// Keep switches over it exhaustive; new kinds must be added here first.
type ActionType string

const (
	ActionHighlight ActionType = "highlight"
	ActionButton    ActionType = "button"
	ActionFormFill  ActionType = "formfill"
	ActionNavigate  ActionType = "navigate"
	ActionHover     ActionType = "hover"
	ActionNoop      ActionType = "noop"

	// Composite kinds produced by combining recorded steps.
	ActionMultiStep ActionType = "multistep"
	ActionGuided    ActionType = "guided"
)

// IsValid reports whether a is one of the known action kinds.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionHighlight, ActionButton, ActionFormFill, ActionNavigate,
		ActionHover, ActionNoop, ActionMultiStep, ActionGuided:
		return true
	}
	return false
}

// IsComposite reports whether a carries nested sub-steps.
func (a ActionType) IsComposite() bool {
	return a == ActionMultiStep || a == ActionGuided
}

// Step is one recorded or authored unit of interaction. Insertion order is
// replay order. A step is immutable once appended; editing happens by
// replacing it at its index. Composite steps (multistep/guided) keep their
// original steps nested in Steps, in the original relative order.
type Step struct {
	Action          ActionType `json:"action"`
	Selector        string     `json:"selector"`
	Value           string     `json:"value,omitempty"`
	Description     string     `json:"description,omitempty"`
	IsUnique        bool       `json:"is_unique"`
	MatchCount      int        `json:"match_count"`
	ContextStrategy string     `json:"context_strategy,omitempty"`
	Steps           []Step     `json:"steps,omitempty"`
}

// SameInteraction reports whether two steps describe the same user
// interaction (action, selector and value). Uniqueness metadata and
// descriptions are ignored; the recorder uses this to drop duplicate
// event deliveries.
func (s Step) SameInteraction(o Step) bool {
	return s.Action == o.Action && s.Selector == o.Selector && s.Value == o.Value
}

// Validate checks the fields a step needs before it can be replayed.
func (s Step) Validate() error {
	if !s.Action.IsValid() {
		return fmt.Errorf("unknown action %q", string(s.Action))
	}
	if s.Action.IsComposite() {
		if len(s.Steps) == 0 {
			return fmt.Errorf("%s step has no sub-steps", s.Action)
		}
		for i, sub := range s.Steps {
			if sub.Action.IsComposite() {
				return fmt.Errorf("sub-step %d: nested composites are not supported", i+1)
			}
			if err := sub.Validate(); err != nil {
				return fmt.Errorf("sub-step %d: %w", i+1, err)
			}
		}
		return nil
	}
	if s.Action == ActionNavigate {
		if s.Value == "" {
			return fmt.Errorf("navigate step has an empty url")
		}
		return nil
	}
	if s.Action != ActionNoop && s.Selector == "" {
		return fmt.Errorf("%s step has an empty selector", s.Action)
	}
	return nil
}

// Marshal renders steps in the rich JSON form used for storage (selector,
// action, value plus uniqueness metadata, composites nested).
func Marshal(list []Step) (string, error) {
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("marshal steps: %w", err)
	}
	return string(data), nil
}

// Unmarshal parses the rich JSON form back into steps.
func Unmarshal(data string) ([]Step, error) {
	if strings.TrimSpace(data) == "" {
		return nil, nil
	}
	var list []Step
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return list, nil
}

// EncodePipe renders steps in the pipe-delimited text form:
//
//	action|selector|value|description
//
// one step per line, trailing empty fields omitted, sub-steps of a composite
// on following lines prefixed with ">". The bare action|selector|value
// triple therefore stays valid. The text form round-trips action, selector,
// value and description; uniqueness metadata lives only in the JSON form.
func EncodePipe(list []Step) string {
	var b strings.Builder
	for _, s := range list {
		writePipeLine(&b, s, false)
		for _, sub := range s.Steps {
			writePipeLine(&b, sub, true)
		}
	}
	return b.String()
}

func writePipeLine(b *strings.Builder, s Step, nested bool) {
	if nested {
		b.WriteString("> ")
	}
	fields := []string{string(s.Action), s.Selector, s.Value, s.Description}
	// Drop trailing empties so simple steps stay simple triples (or pairs).
	last := len(fields) - 1
	for last > 1 && fields[last] == "" {
		last--
	}
	b.WriteString(strings.Join(fields[:last+1], "|"))
	b.WriteByte('\n')
}

// ParsePipe parses the pipe text form. Blank lines and lines starting with
// "#" are skipped. A line starting with ">" attaches to the most recent
// composite step. Fields are split on "|" into at most four parts, so a
// description may itself contain pipes; selectors and values may not.
func ParsePipe(text string) ([]Step, error) {
	var (
		list    []Step
		current *Step
	)
	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		nested := false
		if strings.HasPrefix(line, ">") {
			nested = true
			line = strings.TrimSpace(strings.TrimPrefix(line, ">"))
		}
		step, err := parsePipeLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if nested {
			if current == nil {
				return nil, fmt.Errorf("line %d: nested step without a composite parent", i+1)
			}
			if step.Action.IsComposite() {
				return nil, fmt.Errorf("line %d: nested composites are not supported", i+1)
			}
			current.Steps = append(current.Steps, step)
			continue
		}
		list = append(list, step)
		if step.Action.IsComposite() {
			current = &list[len(list)-1]
		} else {
			current = nil
		}
	}
	for i, s := range list {
		if s.Action.IsComposite() && len(s.Steps) == 0 {
			return nil, fmt.Errorf("step %d: %s step has no nested lines", i+1, s.Action)
		}
	}
	return list, nil
}

func parsePipeLine(line string) (Step, error) {
	parts := strings.SplitN(line, "|", 4)
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	action := ActionType(strings.TrimSpace(parts[0]))
	if action == "" {
		return Step{}, fmt.Errorf("empty action")
	}
	if !action.IsValid() {
		return Step{}, fmt.Errorf("unknown action %q", string(action))
	}
	return Step{
		Action:      action,
		Selector:    strings.TrimSpace(parts[1]),
		Value:       strings.TrimSpace(parts[2]),
		Description: strings.TrimSpace(parts[3]),
	}, nil
}
