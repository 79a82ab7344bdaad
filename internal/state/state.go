// Package state reads and writes load state snapshots: a versioned YAML
// document holding the stage a load reached and its old-to-new id map.
package state

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/davidmreed/amaxa-sub000/internal/engine"
	"github.com/davidmreed/amaxa-sub000/internal/sfid"
)

// Version is the snapshot format version.
const Version = 1

// Suffix is appended to the operation file's base name to form the
// snapshot file name.
const Suffix = ".state.yml"

type document struct {
	Version int  `yaml:"version"`
	State   body `yaml:"state"`
}

type body struct {
	Stage string    `yaml:"stage"`
	IDMap yaml.Node `yaml:"id-map"`
}

// PathFor returns the snapshot path for an operation file:
// dir/op.yml becomes dir/op.state.yml.
func PathFor(operationPath string) string {
	dir, base := filepath.Split(operationPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, base+Suffix)
}

// Marshal encodes s. Mappings are written in old-id order.
func Marshal(s engine.LoadState) ([]byte, error) {
	olds := make([]sfid.ID, 0, len(s.IDMap))
	for old := range s.IDMap {
		olds = append(olds, old)
	}
	sort.Slice(olds, func(i, j int) bool { return olds[i].String() < olds[j].String() })

	ids := yaml.Node{Kind: yaml.MappingNode}
	for _, old := range olds {
		ids.Content = append(ids.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: old.String()},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s.IDMap[old].String()},
		)
	}
	stage := s.Stage
	if stage == 0 {
		stage = engine.StageInserts
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(document{Version: Version, State: body{Stage: stage.String(), IDMap: ids}}); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a snapshot. Unknown keys, an unsupported version and
// malformed ids are errors.
func Unmarshal(data []byte) (engine.LoadState, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return engine.LoadState{}, fmt.Errorf("decode state: %w", err)
	}
	if doc.Version != Version {
		return engine.LoadState{}, fmt.Errorf("unsupported state version %d (want %d)", doc.Version, Version)
	}

	out := engine.NewLoadState()
	stage, err := engine.ParseStage(doc.State.Stage)
	if err != nil {
		return engine.LoadState{}, err
	}
	out.Stage = stage

	var raw map[string]string
	if doc.State.IDMap.Kind != 0 {
		if err := doc.State.IDMap.Decode(&raw); err != nil {
			return engine.LoadState{}, fmt.Errorf("decode id-map: %w", err)
		}
	}
	for k, v := range raw {
		oldID, err := sfid.New(k)
		if err != nil {
			return engine.LoadState{}, fmt.Errorf("id-map key %q: %w", k, err)
		}
		newID, err := sfid.New(v)
		if err != nil {
			return engine.LoadState{}, fmt.Errorf("id-map value for %s: %w", k, err)
		}
		out.IDMap[oldID] = newID
	}
	return out, nil
}

// Read loads the snapshot at path.
func Read(path string) (engine.LoadState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.LoadState{}, fmt.Errorf("read state: %w", err)
	}
	s, err := Unmarshal(data)
	if err != nil {
		return engine.LoadState{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Write stores s at path, replacing any existing file.
func Write(path string, s engine.LoadState) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
