package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config file names searched, in order, when no explicit path is given.
var configNames = []string{"herdctl.yaml", "herdctl.yml"}

// Find locates the root config file. An explicit file path is used as-is; an
// explicit directory (or "" for the working directory) is searched upward to
// the filesystem root.
func Find(explicit string) (string, error) {
	if explicit != "" {
		info, err := os.Stat(explicit)
		if err != nil {
			return "", &NotFoundError{Searched: []string{explicit}}
		}
		if !info.IsDir() {
			return filepath.Abs(explicit)
		}
	}

	start := explicit
	if start == "" {
		var err error
		if start, err = os.Getwd(); err != nil {
			return "", fmt.Errorf("getwd: %w", err)
		}
	}
	start, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	var searched []string
	dir := start
	for {
		for _, name := range configNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
			searched = append(searched, candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", &NotFoundError{Searched: searched}
		}
		dir = parent
	}
}

// Load parses the root config at path and resolves the full fleet tree into
// a flat agent list.
func Load(path string) (*LoadResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	rootDir := filepath.Dir(abs)

	l := &loader{
		env:     LoadEnv(rootDir),
		rootDir: rootDir,
	}

	root, err := l.readFleet(abs)
	if err != nil {
		return nil, err
	}

	result := &LoadResult{
		FleetName:  root.doc.Fleet.Name,
		Web:        root.doc.Web,
		Defaults:   root.doc.Defaults,
		ConfigPath: abs,
		ConfigDir:  rootDir,
	}

	if err := l.resolve(root, nil, nil, []string{abs}, result); err != nil {
		return nil, err
	}

	seen := map[string]string{}
	for _, a := range result.Agents {
		if prev, dup := seen[a.QualifiedName]; dup {
			return nil, &AgentLoadError{
				RefPath: a.ConfigPath,
				Err:     fmt.Errorf("qualified name %q already defined by %s", a.QualifiedName, prev),
			}
		}
		seen[a.QualifiedName] = a.ConfigPath
	}

	return result, nil
}

type loader struct {
	env     Env
	rootDir string
}

// fleetNode pairs a parsed fleet document with its raw map form (needed for
// override merging) and its absolute path.
type fleetNode struct {
	path string
	doc  *FleetFile
	raw  map[string]any
}

func (l *loader) readFleet(abs string) (*fleetNode, error) {
	raw, err := l.readDoc(abs)
	if err != nil {
		return nil, err
	}
	var doc FleetFile
	if err := decode(raw, &doc); err != nil {
		return nil, &SchemaError{Path: abs, Issues: []Issue{{Path: "", Message: err.Error()}}}
	}
	if err := validateFleetFile(abs, &doc); err != nil {
		return nil, err
	}
	return &fleetNode{path: abs, doc: &doc, raw: raw}, nil
}

// readDoc reads, interpolates, and parses one YAML document into a raw map.
func (l *loader) readDoc(abs string) (map[string]any, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, &FileReadError{Path: abs, Err: err}
	}
	text := l.env.Interpolate(string(data))
	raw := map[string]any{}
	if err := yaml.Unmarshal([]byte(text), &raw); err != nil {
		return nil, &SchemaError{Path: abs, Issues: []Issue{{Path: "", Message: err.Error()}}}
	}
	return raw, nil
}

// resolve walks one fleet node: merges defaults, loads its agents, and
// recurses into referenced sub-fleets. stack carries the absolute paths from
// the root to node for cycle reporting.
func (l *loader) resolve(node *fleetNode, fleetPath []string, parentDefaults map[string]any, stack []string, result *LoadResult) error {
	dir := filepath.Dir(node.path)
	defaults := deepMerge(parentDefaults, node.doc.Defaults)

	for _, ref := range node.doc.Agents {
		agent, err := l.loadAgent(dir, ref, defaults, fleetPath)
		if err != nil {
			return err
		}
		result.Agents = append(result.Agents, agent)
	}

	claimed := map[string]string{} // resolved name -> referring path
	for _, ref := range node.doc.Fleets {
		subAbs, err := filepath.Abs(filepath.Join(dir, ref.Path))
		if err != nil {
			return &FleetLoadError{RefPath: ref.Path, Err: err}
		}

		for _, seen := range stack {
			if seen == subAbs {
				return &CycleError{Chain: append(append([]string{}, stack...), subAbs)}
			}
		}

		sub, err := l.readFleet(subAbs)
		if err != nil {
			return &FleetLoadError{RefPath: ref.Path, Err: err}
		}

		// Parent overrides are merged into the sub-fleet before recursion.
		// A sub-fleet's own web block never escapes unless the parent
		// explicitly overrides web.
		if len(ref.Overrides) > 0 {
			sub.raw = deepMerge(sub.raw, ref.Overrides)
			var doc FleetFile
			if err := decode(sub.raw, &doc); err != nil {
				return &FleetLoadError{RefPath: ref.Path, Err: &SchemaError{Path: subAbs, Issues: []Issue{{Message: err.Error()}}}}
			}
			sub.doc = &doc
			if err := validateFleetFile(subAbs, sub.doc); err != nil {
				return &FleetLoadError{RefPath: ref.Path, Err: err}
			}
		}
		if _, hasWeb := ref.Overrides["web"]; !hasWeb {
			sub.doc.Web = nil
		}

		name := ref.Name
		if name == "" {
			name = sub.doc.Fleet.Name
		}
		if name == "" {
			name = filepath.Base(filepath.Dir(subAbs))
		}
		if !ValidName(name) || strings.Contains(name, ".") {
			return &InvalidFleetNameError{Name: name, Pattern: NamePattern}
		}
		if first, dup := claimed[name]; dup {
			return &NameCollisionError{Name: name, FirstPath: first, SecondPath: ref.Path}
		}
		claimed[name] = ref.Path

		subPath := append(append([]string{}, fleetPath...), name)
		if err := l.resolve(sub, subPath, defaults, append(stack, subAbs), result); err != nil {
			return err
		}
	}

	return nil
}

// loadAgent loads one referenced agent file and applies the merge chain:
// effective defaults as gap-filler, then the agent file, then per-reference
// overrides.
func (l *loader) loadAgent(fleetDir string, ref AgentRef, defaults map[string]any, fleetPath []string) (*Agent, error) {
	abs, err := filepath.Abs(filepath.Join(fleetDir, ref.Path))
	if err != nil {
		return nil, &AgentLoadError{RefPath: ref.Path, Err: err}
	}

	raw, err := l.readDoc(abs)
	if err != nil {
		return nil, &AgentLoadError{RefPath: ref.Path, Err: err}
	}

	merged := deepMerge(deepMerge(defaults, raw), ref.Overrides)

	var file AgentFile
	if err := decode(merged, &file); err != nil {
		return nil, &AgentLoadError{RefPath: ref.Path, Err: &SchemaError{Path: abs, Issues: []Issue{{Message: err.Error()}}}}
	}
	if err := validateAgentFile(abs, &file); err != nil {
		return nil, &AgentLoadError{RefPath: ref.Path, Err: err}
	}

	if file.MaxConcurrent == 0 {
		file.MaxConcurrent = 1
	}

	agentDir := filepath.Dir(abs)
	wd := file.WorkingDirectory
	switch {
	case wd == "":
		wd = agentDir
	case strings.Contains(wd, "{root}"):
		wd = strings.ReplaceAll(wd, "{root}", l.rootDir)
	}
	if !filepath.IsAbs(wd) {
		wd = filepath.Join(agentDir, wd)
	}
	file.WorkingDirectory = filepath.Clean(wd)

	agent := &Agent{
		AgentFile:  file,
		FleetPath:  append([]string{}, fleetPath...),
		ConfigPath: abs,
	}
	agent.QualifiedName = QualifiedName(fleetPath, file.Name)
	return agent, nil
}

// QualifiedName joins a fleet path and a local agent name with dots.
func QualifiedName(fleetPath []string, name string) string {
	if len(fleetPath) == 0 {
		return name
	}
	return strings.Join(fleetPath, ".") + "." + name
}
