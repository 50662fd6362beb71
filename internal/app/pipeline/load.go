package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// Load reads a pipeline definition from path. The format follows the file
// extension: .yaml/.yml or .hcl.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	return Parse(filepath.Base(path), data)
}

// Parse decodes data, choosing the format from filename's extension.
func Parse(filename string, data []byte) (*Definition, error) {
	var (
		def *Definition
		err error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		def, err = parseYAML(data)
	case ".hcl":
		def, err = parseHCL(filename, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
	}
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// ─── YAML ───────────────────────────────────────────────────────────────────

func parseYAML(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &def, nil
}

// ─── HCL ────────────────────────────────────────────────────────────────────

type hclFile struct {
	Pipeline hclPipeline `hcl:"pipeline,block"`
}

type hclPipeline struct {
	Name     string       `hcl:"name,label"`
	Elements []hclElement `hcl:"element,block"`
}

type hclElement struct {
	Name    string    `hcl:"name,label"`
	Kind    string    `hcl:"kind"`
	Queue   int       `hcl:"queue,optional"`
	Inputs  []string  `hcl:"inputs,optional"`
	Rule    string    `hcl:"rule,optional"`
	Period  string    `hcl:"period,optional"`
	OnError string    `hcl:"on_error,optional"`
	Params  cty.Value `hcl:"params,optional"`
}

func parseHCL(filename string, data []byte) (*Definition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse hcl %s: %w", filename, diags)
	}

	var parsed hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("decode hcl %s: %w", filename, diags)
	}

	def := &Definition{Name: parsed.Pipeline.Name}
	for _, e := range parsed.Pipeline.Elements {
		ed := ElementDef{
			Name:    e.Name,
			Kind:    e.Kind,
			Queue:   e.Queue,
			Inputs:  e.Inputs,
			Rule:    e.Rule,
			Period:  e.Period,
			OnError: e.OnError,
		}
		if !e.Params.IsNull() {
			raw, err := ctyToGo(e.Params)
			if err != nil {
				return nil, fmt.Errorf("element %q params: %w", e.Name, err)
			}
			m, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: element %q params must be an object", ErrInvalidDefinition, e.Name)
			}
			ed.Params = m
		}
		def.Elements = append(def.Elements, ed)
	}
	return def, nil
}
