// Package engine describes the external recovery engines and runs them.
package engine

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yourorg/unfreeze/internal/model"
	"gopkg.in/yaml.v3"
)

// OutputMode says where an engine leaves its artifact.
type OutputMode string

const (
	// OutputStdout engines print the artifact; stdout is captured to the output path.
	OutputStdout OutputMode = "stdout"
	// OutputFile engines write the artifact to the {output} path themselves.
	OutputFile OutputMode = "file"
)

// Engine is one entry of the cascade. Command is an argv template; the
// placeholders {input}, {output}, {outdir} and {version} are substituted per
// invocation.
type Engine struct {
	Name    string        `yaml:"name"`
	Stage   model.Stage   `yaml:"stage"`
	Command []string      `yaml:"command"`
	Output  OutputMode    `yaml:"output"`
	Timeout time.Duration `yaml:"timeout"`
}

type catalogueFile struct {
	Engines []Engine `yaml:"engines"`
}

// DefaultCatalogue is the cascade used when no engines file is configured.
func DefaultCatalogue() []Engine {
	return []Engine{
		{Name: "pycdc", Stage: model.StagePrimary, Command: []string{"pycdc", "{input}"}, Output: OutputStdout},
		{Name: "uncompyle6", Stage: model.StageSecondary, Command: []string{"uncompyle6", "-o", "{output}", "{input}"}, Output: OutputFile},
		{Name: "pycdas", Stage: model.StageDisassemble, Command: []string{"pycdas", "{input}"}, Output: OutputStdout},
	}
}

var stageRank = map[model.Stage]int{
	model.StagePrimary:     0,
	model.StageSecondary:   1,
	model.StageDisassemble: 2,
}

// LoadCatalogue reads an engines YAML file:
//
//	engines:
//	  - name: pycdc
//	    stage: primary
//	    command: [pycdc, "{input}"]
//	    output: stdout
func LoadCatalogue(path string) ([]Engine, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engines file: %w", err)
	}
	var f catalogueFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse engines file %s: %w", path, err)
	}
	for i := range f.Engines {
		if f.Engines[i].Output == "" {
			f.Engines[i].Output = OutputStdout
		}
		if f.Engines[i].Name == "" && len(f.Engines[i].Command) > 0 {
			f.Engines[i].Name = f.Engines[i].Command[0]
		}
	}
	if err := Validate(f.Engines); err != nil {
		return nil, fmt.Errorf("engines file %s: %w", path, err)
	}
	return f.Engines, nil
}

// Validate checks that every engine is runnable and that stages appear in
// cascade order.
func Validate(engines []Engine) error {
	if len(engines) == 0 {
		return errors.New("no engines configured")
	}
	last := -1
	for i, e := range engines {
		rank, ok := stageRank[e.Stage]
		if !ok {
			return fmt.Errorf("engine %d (%s): unknown stage %q", i, e.Name, e.Stage)
		}
		if rank < last {
			return fmt.Errorf("engine %d (%s): stage %s listed after a later stage", i, e.Name, e.Stage)
		}
		last = rank
		if len(e.Command) == 0 || strings.TrimSpace(e.Command[0]) == "" {
			return fmt.Errorf("engine %d (%s): empty command", i, e.Name)
		}
		if e.Output != OutputStdout && e.Output != OutputFile {
			return fmt.Errorf("engine %d (%s): unknown output mode %q", i, e.Name, e.Output)
		}
	}
	return nil
}

// Vars are the per-invocation placeholder values.
type Vars struct {
	Input   string
	Output  string
	OutDir  string
	Version string
}

// Args expands the command template.
func (e Engine) Args(v Vars) []string {
	r := strings.NewReplacer(
		"{input}", v.Input,
		"{output}", v.Output,
		"{outdir}", v.OutDir,
		"{version}", v.Version,
	)
	out := make([]string, len(e.Command))
	for i, a := range e.Command {
		out[i] = r.Replace(a)
	}
	return out
}
