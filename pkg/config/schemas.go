package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRuleSet is the name of the built-in rule-set schema.
const SchemaRuleSet = "ruleset"

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with the built-in schemas.
func NewSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	if ctx == nil {
		ctx = cuecontext.New()
	}
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(SchemaRuleSet, builtinRuleSetSchema, "#RuleSet"); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles schema and registers the definition it names.
func (sr *SchemaRegistry) RegisterSchema(name, schema, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies val with the named schema and checks that the result is
// concrete. The returned value is ready to decode.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if _, err := sr.Unify(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names in order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinRuleSetSchema = `
// Readability thresholds; an absent bound is not checked.
#Readability: {
	min_reading_ease?:        number
	max_avg_sentence_length?: number & >0
	max_avg_word_length?:     number & >0
	min_words?:               int & >=0
}

#Section: {
	name:        string & !=""
	aliases?:    [...string]
	min_length?: int & >=0
}

#Rule: {
	id:        string & !=""
	kind:      "section_presence" | "keyword_presence" | "cross_reference" | "numeric_threshold"
	severity:  "blocking" | "warning"
	message?:  string
	section?:  string
	keywords?: [...string]
	match?:    "any" | "all"
	target?:   string
	markers?:  [...string]
	metric?:   "word_count"
	operator?: ">=" | "<=" | "=="
	value?:    number

	if kind == "keyword_presence" {
		keywords: [string, ...string]
	}
	if kind == "cross_reference" {
		section: string & !=""
		target:  string & !=""
	}
	if kind == "numeric_threshold" {
		operator: _
		value:    _
	}
}

#Policy: {
	policy_type:       string & !=""
	description?:      string
	controls?:         [...string]
	required_sections: [...#Section]
	rules?:            [...#Rule]
	readability?:      #Readability
}

#Control: {
	control_id:    string & !=""
	title?:        string
	keywords:      [string, ...string]
	policy_types?: [...string]
}

#RuleSet: {
	version?:     string
	policies?:    [...#Policy]
	controls?:    [...#Control]
	readability?: #Readability
}
`
