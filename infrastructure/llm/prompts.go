package llm

import (
	"os"
	"path/filepath"
	"strings"

	"graphweaver/pkg/errors"
)

// PromptSet holds the task prompts, loaded once at startup so a missing file
// fails the run before any quota is spent.
type PromptSet struct {
	ParserSystem        string
	MergeCheck          string
	MergeExecute        string
	CleanSingleRelation string
	PRValidator         string
}

// LoadPrompts reads the prompt files from dir.
func LoadPrompts(dir string) (*PromptSet, error) {
	read := func(name string) (string, error) {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", errors.Wrap(err, "failed to load prompt "+name)
		}
		return strings.TrimSpace(string(data)), nil
	}

	var ps PromptSet
	var err error
	if ps.ParserSystem, err = read("parser_system.txt"); err != nil {
		return nil, err
	}
	if ps.MergeCheck, err = read("merge_check.txt"); err != nil {
		return nil, err
	}
	if ps.MergeExecute, err = read("merge_execute.txt"); err != nil {
		return nil, err
	}
	if ps.CleanSingleRelation, err = read("clean_single_relation.txt"); err != nil {
		return nil, err
	}
	if ps.PRValidator, err = read("pr_validator.txt"); err != nil {
		return nil, err
	}
	return &ps, nil
}

// render substitutes {{name}} placeholders in a prompt template.
func render(template string, vars map[string]string) string {
	out := template
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}
