// File: internal/plan/plan.go
// Brief: Plan file loading and validation.

// Package plan loads unwind plan files. A plan names an ordered list of
// steps; each step declares exactly one resource to acquire. Later steps may
// reference the values earlier steps produced with ${name}.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "plan.yaml"

type APIVersionKind struct {
	APIVersion string `yaml:"apiVersion,omitempty" json:"apiVersion,omitempty"`
	Kind       string `yaml:"kind,omitempty" json:"kind,omitempty"`
}

type TempDirSpec struct {
	Dir     string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

type FileSpec struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

type LockSpec struct {
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	TimeoutDur time.Duration `yaml:"-" json:"-"`
}

type SQLiteSpec struct {
	Path string   `yaml:"path,omitempty" json:"path,omitempty"`
	Init []string `yaml:"init,omitempty" json:"init,omitempty"`
}

type ListenerSpec struct {
	Network string `yaml:"network,omitempty" json:"network,omitempty"`
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}

type CommandSpec struct {
	Run     string   `yaml:"run,omitempty" json:"run,omitempty"`
	Dir     string   `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env     []string `yaml:"env,omitempty" json:"env,omitempty"`
	Timeout string   `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	TimeoutDur time.Duration `yaml:"-" json:"-"`
}

// Step declares exactly one resource. The zero or two-plus cases are
// rejected by Load.
type Step struct {
	Name     string        `yaml:"name,omitempty" json:"name,omitempty"`
	TempDir  *TempDirSpec  `yaml:"tempDir,omitempty" json:"tempDir,omitempty"`
	File     *FileSpec     `yaml:"file,omitempty" json:"file,omitempty"`
	Lock     *LockSpec     `yaml:"lock,omitempty" json:"lock,omitempty"`
	SQLite   *SQLiteSpec   `yaml:"sqlite,omitempty" json:"sqlite,omitempty"`
	Listener *ListenerSpec `yaml:"listener,omitempty" json:"listener,omitempty"`
	Command  *CommandSpec  `yaml:"command,omitempty" json:"command,omitempty"`
}

// Kind reports which resource the step declares.
func (s *Step) Kind() string {
	kinds := s.declaredKinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (s *Step) declaredKinds() []string {
	var kinds []string
	if s.TempDir != nil {
		kinds = append(kinds, "tempDir")
	}
	if s.File != nil {
		kinds = append(kinds, "file")
	}
	if s.Lock != nil {
		kinds = append(kinds, "lock")
	}
	if s.SQLite != nil {
		kinds = append(kinds, "sqlite")
	}
	if s.Listener != nil {
		kinds = append(kinds, "listener")
	}
	if s.Command != nil {
		kinds = append(kinds, "command")
	}
	return kinds
}

type Plan struct {
	APIVersionKind `yaml:",inline" json:",inline"`

	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Steps []Step `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Plan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if p.Kind != "" && p.Kind != "Plan" {
		return nil, fmt.Errorf("%s: kind must be Plan (got %q)", path, p.Kind)
	}
	if p.APIVersion != "" && p.APIVersion != "unwind.dev/v1" {
		return nil, fmt.Errorf("%s: apiVersion must be unwind.dev/v1 (got %q)", path, p.APIVersion)
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("%s: at least one step is required", path)
	}

	seen := map[string]int{}
	for i := range p.Steps {
		step := &p.Steps[i]
		name := strings.TrimSpace(step.Name)
		if name == "" {
			return nil, fmt.Errorf("%s: steps[%d].name is required", path, i)
		}
		step.Name = name
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%s: steps[%d] reuses name %q from steps[%d]", path, i, name, prev)
		}
		seen[name] = i

		kinds := step.declaredKinds()
		switch len(kinds) {
		case 0:
			return nil, fmt.Errorf("%s: steps[%d] (%s) declares no resource", path, i, name)
		case 1:
		default:
			return nil, fmt.Errorf("%s: steps[%d] (%s) declares %s, want exactly one resource", path, i, name, strings.Join(kinds, " and "))
		}

		if step.Lock != nil && strings.TrimSpace(step.Lock.Timeout) != "" {
			dur, err := time.ParseDuration(step.Lock.Timeout)
			if err != nil {
				return nil, fmt.Errorf("%s: steps[%d] (%s): invalid lock timeout %q: %w", path, i, name, step.Lock.Timeout, err)
			}
			step.Lock.TimeoutDur = dur
		}
		if step.SQLite != nil {
			for k, stmt := range step.SQLite.Init {
				if strings.TrimSpace(stmt) == "" {
					return nil, fmt.Errorf("%s: steps[%d] (%s): sqlite.init[%d] is empty", path, i, name, k)
				}
			}
		}
		if step.Command != nil {
			if strings.TrimSpace(step.Command.Run) == "" {
				return nil, fmt.Errorf("%s: steps[%d] (%s): command.run is required", path, i, name)
			}
			if strings.TrimSpace(step.Command.Timeout) != "" {
				dur, err := time.ParseDuration(step.Command.Timeout)
				if err != nil {
					return nil, fmt.Errorf("%s: steps[%d] (%s): invalid command timeout %q: %w", path, i, name, step.Command.Timeout, err)
				}
				step.Command.TimeoutDur = dur
			}
		}
	}
	return &p, nil
}

// Expand substitutes ${step} references with the values earlier steps
// produced. Unknown references are an error rather than an empty string.
// Only the brace form is recognized; bare $NAME passes through untouched so
// command strings can still reference process environment variables.
func Expand(s string, vars map[string]string) (string, error) {
	orig := s
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		b.WriteString(s[:i])
		rest := s[i+2:]
		j := strings.Index(rest, "}")
		if j < 0 {
			return "", fmt.Errorf("unterminated step reference in %q", orig)
		}
		name := rest[:j]
		v, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("unknown step reference %q in %q", name, orig)
		}
		b.WriteString(v)
		s = rest[j+1:]
	}
}
