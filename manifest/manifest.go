// Package manifest parses the two JSON documents the installer reads:
// the root project's spm-package.json, and the package.json shipped inside
// every dependency tarball. Shapes are adapted from the abbreviated
// registry metadata a package repository would serve.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Project is the root spm-package.json describing the project being
// installed into.
type Project struct {
	Name         string            `json:"name"`
	Version      string            `json:"version,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

// ParseProject decodes a root project manifest.
func ParseProject(data []byte) (Project, error) {
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return Project{}, fmt.Errorf("parse spm-package.json: %w", err)
	}
	return p, nil
}

// Package is the package.json found at the root of an extracted tarball.
// Only the fields the Resolver and Linker consume are modeled; everything
// else in a real package.json (author, license, files, repository, ...) is
// deliberately dropped on the floor.
type Package struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
	Bin          Bin               `json:"bin"`
	Scripts      Scripts           `json:"scripts"`
}

// Scripts holds the three lifecycle phases the Linker runs, in order.
type Scripts struct {
	Preinstall  string `json:"preinstall,omitempty"`
	Install     string `json:"install,omitempty"`
	Postinstall string `json:"postinstall,omitempty"`
}

// Phases returns the lifecycle scripts in execution order, skipping any
// phase the package does not define.
func (s Scripts) Phases() []Phase {
	var phases []Phase
	if s.Preinstall != "" {
		phases = append(phases, Phase{Name: "preinstall", Command: s.Preinstall})
	}
	if s.Install != "" {
		phases = append(phases, Phase{Name: "install", Command: s.Install})
	}
	if s.Postinstall != "" {
		phases = append(phases, Phase{Name: "postinstall", Command: s.Postinstall})
	}
	return phases
}

// Phase is a single named lifecycle script.
type Phase struct {
	Name    string
	Command string
}

// Bin maps a shim name to the path, inside the package, of the executable
// it should point at. npm allows the "bin" field to be either a bare
// string (the package's own name, without any "@scope/" prefix, is used as
// the shim name) or an object
// of {shimName: path}; both are accepted here.
type Bin map[string]string

// UnmarshalJSON accepts both the string and object forms of "bin". The
// string form needs the owning package's name to become a shim name, so
// it is resolved lazily by ResolveBin rather than here.
func (b *Bin) UnmarshalJSON(data []byte) error {
	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err == nil {
		*b = obj
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("bin: expected string or object, got %s", data)
	}
	*b = Bin{"": str}
	return nil
}

// ResolveBin expands the single-string "bin" shorthand ({"": path}) into
// {packageName: path}, dropping a scope prefix ("@scope/name" -> "name").
// Called once the owning package's name is known.
func (p Package) ResolveBin() Bin {
	if path, ok := p.Bin[""]; ok && len(p.Bin) == 1 {
		name := p.Name
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		return Bin{name: path}
	}
	return p.Bin
}

// ParsePackage decodes a dependency's package.json.
func ParsePackage(data []byte) (Package, error) {
	var pkg Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return Package{}, fmt.Errorf("parse package.json: %w", err)
	}
	return pkg, nil
}
