// Package validator is the contract guard for data crossing the process
// boundary: config files read in and header views handed out. When a
// contract fails the caller gets every violation, not just the first one.
package validator

import (
	"embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/sugawarayuuta/sonnet"
)

//go:embed schema.cue
var schemaFS embed.FS

// Definitions exported by schema.cue.
const (
	ConfigDef = "#Config"
	HeaderDef = "#Header"
)

// Validator checks JSON documents against the embedded CUE schema.
// A cue.Context is not safe for concurrent use, so calls are serialized.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// New creates a new Validator with the embedded CUE schema
func New() (*Validator, error) {
	ctx := cuecontext.New()

	schemaBytes, err := schemaFS.ReadFile("schema.cue")
	if err != nil {
		return nil, fmt.Errorf("loading embedded schema: %w", err)
	}

	schema := ctx.CompileBytes(schemaBytes)
	if schema.Err() != nil {
		return nil, fmt.Errorf("compiling schema: %w", schema.Err())
	}

	return &Validator{
		ctx:    ctx,
		schema: schema,
	}, nil
}

// ValidateConfigJSON checks a configuration document.
func (v *Validator) ValidateConfigJSON(jsonBytes []byte) error {
	return v.validateJSON(jsonBytes, ConfigDef)
}

// ValidateHeader checks a header view before it leaves the process.
func (v *Validator) ValidateHeader(view any) error {
	jsonBytes, err := sonnet.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshaling header to JSON: %w", err)
	}
	return v.validateJSON(jsonBytes, HeaderDef)
}

func (v *Validator) unify(jsonBytes []byte, def string) (cue.Value, error) {
	dataValue := v.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("compiling JSON as CUE: %w", dataValue.Err())
	}

	defValue := v.schema.LookupPath(cue.ParsePath(def))
	if defValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("looking up %s definition: %w", def, defValue.Err())
	}

	return defValue.Unify(dataValue), nil
}

func (v *Validator) validateJSON(jsonBytes []byte, def string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	unified, err := v.unify(jsonBytes, def)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s validation failed: %w", def, err)
	}
	return nil
}

// ValidationErrors returns detailed information about all validation errors
func (v *Validator) ValidationErrors(jsonBytes []byte, def string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	unified, err := v.unify(jsonBytes, def)
	if err != nil {
		return []string{err.Error()}
	}
	err = unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []string
	for _, e := range errors.Errors(err) {
		errs = append(errs, e.Error())
	}
	return errs
}
