// Package config loads operation and credentials documents.
//
// Documents are YAML. Each is checked against an embedded CUE schema before
// it is decoded, so that type and enum errors are reported with their field
// path; cross-field rules are checked afterwards. All failures are
// CONFIGURATION errors and happen before any remote call.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/davidmreed/amaxa-sub000/internal/engine"
)

//go:embed schema.cue
var schemaSrc string

// Document versions accepted by this package.
const (
	OperationVersion   = 2
	CredentialsVersion = 1
)

func invalid(format string, args ...any) *engine.Error {
	return &engine.Error{Kind: engine.KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// checkSchema validates data against the named CUE definition.
func checkSchema(def string, data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return invalid("parse: %v", err)
	}
	js, err := json.Marshal(raw)
	if err != nil {
		return invalid("parse: %v", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	val := ctx.CompileBytes(js)
	if err := val.Err(); err != nil {
		return invalid("parse: %v", err)
	}
	if err := schema.LookupPath(cue.ParsePath(def)).Unify(val).Validate(cue.Concrete(true)); err != nil {
		return invalid("%s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}

// decodeStrict decodes data into out, rejecting unknown keys.
func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return invalid("decode: %v", err)
	}
	return nil
}

// problems collects cross-field errors.
type problems []error

func (p *problems) add(format string, args ...any) {
	*p = append(*p, invalid(format, args...))
}

func (p problems) err() error {
	return errors.Join(p...)
}
