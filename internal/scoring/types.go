// Package scoring maps raw performance to band scores. Everything here is
// pure: no I/O, no clocks.
package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Module string

const (
	ModuleListening Module = "listening"
	ModuleReading   Module = "reading"
	ModuleWriting   Module = "writing"
	ModuleSpeaking  Module = "speaking"
)

func ParseModule(s string) (Module, error) {
	switch m := Module(strings.ToLower(strings.TrimSpace(s))); m {
	case ModuleListening, ModuleReading, ModuleWriting, ModuleSpeaking:
		return m, nil
	default:
		return "", fmt.Errorf("unknown module %q", s)
	}
}

// Objective modules are scored automatically at submit.
func (m Module) Objective() bool {
	return m == ModuleListening || m == ModuleReading
}

type QuestionType string

const (
	SingleChoice QuestionType = "single_choice"
	MultiSelect  QuestionType = "multi_select"
	ShortAnswer  QuestionType = "short_answer"
	Essay        QuestionType = "essay"
)

func (t QuestionType) Valid() bool {
	switch t {
	case SingleChoice, MultiSelect, ShortAnswer, Essay:
		return true
	}
	return false
}

// QuestionKey is read-only reference data supplied by test content.
type QuestionKey struct {
	QuestionID     string       `json:"questionId" yaml:"id"`
	Type           QuestionType `json:"type" yaml:"type"`
	CorrectAnswers []string     `json:"correctAnswers,omitempty" yaml:"answers"`
	MaxScore       float64      `json:"maxScore" yaml:"max_score"`
}

// Value is an answer: either a single string or a list of strings.
type Value struct {
	text  string
	items []string
	list  bool
}

func Text(s string) Value         { return Value{text: s} }
func List(items ...string) Value  { return Value{items: append([]string(nil), items...), list: true} }
func (v Value) IsList() bool      { return v.list }
func (v Value) Text() string      { return v.text }
func (v Value) Items() []string   { return v.items }
func (v Value) IsZero() bool      { return !v.list && v.text == "" }

// Strings returns the value as a slice regardless of shape.
func (v Value) Strings() []string {
	if v.list {
		return v.items
	}
	return []string{v.text}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.list {
		if v.items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.items)
	}
	return json.Marshal(v.text)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, bytes.Equal(b, []byte("null")):
		*v = Value{}
		return nil
	case b[0] == '[':
		var items []string
		if err := json.Unmarshal(b, &items); err != nil {
			return fmt.Errorf("answer list must contain strings: %w", err)
		}
		*v = List(items...)
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	default:
		return fmt.Errorf("answer must be a string or a list of strings")
	}
}
