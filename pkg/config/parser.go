package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/amoebalabs/docguard/pkg/rules"
)

// Rule-set file formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
	FormatCUE  = "cue"
)

// ruleFilePattern selects rule-set files inside a source directory.
const ruleFilePattern = "**/*.{yaml,yml,json,cue}"

// Parser parses and validates rule-set files. YAML, JSON and CUE sources are
// all unified with the built-in #RuleSet schema before decoding, so every
// format is held to the same constraints.
type Parser struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewParser creates a new rule-set parser.
func NewParser() *Parser {
	ctx := cuecontext.New()
	return &Parser{
		ctx:       ctx,
		schemas:   NewSchemaRegistry(ctx),
		validator: validator.New(),
	}
}

// Schemas returns the schema registry.
func (p *Parser) Schemas() *SchemaRegistry {
	return p.schemas
}

// Load parses sources and builds a snapshot from them.
func (p *Parser) Load(ctx context.Context, sources []string) (*rules.Snapshot, *ParsedRuleSets, error) {
	parsed, err := p.Parse(ctx, sources)
	if err != nil {
		return nil, nil, err
	}
	if err := parsed.Err(); err != nil {
		return nil, parsed, err
	}

	b := rules.NewBuilder()
	if err := parsed.Apply(b); err != nil {
		return nil, parsed, err
	}
	return b.Build(), parsed, nil
}

// Parse parses rule-set files from the given sources. A source is a file, a
// directory searched recursively, or a doublestar glob such as
// "rules/**/*.yaml". Problems inside files are collected in the result;
// the returned error is reserved for sources that cannot be read at all.
func (p *Parser) Parse(ctx context.Context, sources []string) (*ParsedRuleSets, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	files, err := ExpandSources(sources)
	if err != nil {
		return nil, err
	}

	parsed := &ParsedRuleSets{ParsedAt: time.Now()}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			parsed.Errors = append(parsed.Errors, ValidationError{
				File:     path,
				Message:  fmt.Sprintf("failed to read file: %v", err),
				Severity: SeverityError,
			})
			continue
		}

		format, err := formatOf(path)
		if err != nil {
			parsed.Errors = append(parsed.Errors, ValidationError{File: path, Message: err.Error(), Severity: SeverityError})
			continue
		}

		rs, errs := p.decode(path, format, data)
		parsed.Errors = append(parsed.Errors, errs...)
		if rs != nil {
			parsed.Files = append(parsed.Files, SourceFile{Path: path, Format: format, RuleSet: rs})
		}
	}

	return parsed, nil
}

// ParseBytes parses a single in-memory rule set. The format is taken from
// the extension of name.
func (p *Parser) ParseBytes(name string, data []byte) *ParsedRuleSets {
	parsed := &ParsedRuleSets{ParsedAt: time.Now()}

	format, err := formatOf(name)
	if err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{File: name, Message: err.Error(), Severity: SeverityError})
		return parsed
	}

	rs, errs := p.decode(name, format, data)
	parsed.Errors = errs
	if rs != nil {
		parsed.Files = []SourceFile{{Path: name, Format: format, RuleSet: rs}}
	}
	return parsed
}

// decode turns file content into a RuleSet checked against the schema and
// the struct tags.
func (p *Parser) decode(path, format string, data []byte) (*RuleSet, []ValidationError) {
	var val cue.Value

	switch format {
	case FormatYAML:
		var raw interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, []ValidationError{{File: path, Message: err.Error(), Severity: SeverityError}}
		}
		if raw == nil {
			return &RuleSet{}, []ValidationError{{File: path, Message: "file is empty", Severity: SeverityWarning}}
		}
		val = p.ctx.Encode(raw)
	default:
		// JSON is valid CUE.
		val = p.ctx.CompileBytes(data, cue.Filename(path))
	}

	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(path, err)
	}

	unified, err := p.schemas.Unify(SchemaRuleSet, val)
	if err != nil {
		return nil, convertCUEErrors(path, err)
	}

	var rs RuleSet
	if err := unified.Decode(&rs); err != nil {
		return nil, []ValidationError{{File: path, Message: fmt.Sprintf("failed to decode rule set: %v", err), Severity: SeverityError}}
	}

	if err := p.validator.Struct(rs); err != nil {
		return nil, convertValidatorErrors(path, err)
	}

	return &rs, nil
}

// Apply adds the parsed rule sets to b. A policy type or the global
// thresholds defined by two files is an error; control mappings follow the
// builder's last-write-wins rule.
func (p *ParsedRuleSets) Apply(b *rules.Builder) error {
	var errs []ValidationError
	policyOwners := make(map[string]string)
	var thresholdsOwner string

	for _, f := range p.Files {
		rs := f.RuleSet

		for i, doc := range rs.Policies {
			path := fmt.Sprintf("policies.%d", i)
			key := rules.NormalizeName(doc.PolicyType)
			if owner, dup := policyOwners[key]; dup {
				errs = append(errs, ValidationError{
					File:     f.Path,
					Path:     path,
					Message:  fmt.Sprintf("policy type %q is already defined in %s", doc.PolicyType, owner),
					Severity: SeverityError,
				})
				continue
			}
			policyOwners[key] = f.Path

			spec, err := doc.Spec()
			if err == nil {
				err = b.PutSpec(spec)
			}
			if err != nil {
				errs = append(errs, ValidationError{File: f.Path, Path: path, Message: err.Error(), Severity: SeverityError})
			}
		}

		if len(rs.Controls) > 0 {
			if _, err := b.Upsert(rs.Controls); err != nil {
				errs = append(errs, ValidationError{File: f.Path, Path: "controls", Message: err.Error(), Severity: SeverityError})
			}
		}

		if rs.Readability != nil {
			if thresholdsOwner != "" {
				errs = append(errs, ValidationError{
					File:     f.Path,
					Path:     "readability",
					Message:  fmt.Sprintf("global readability thresholds are already defined in %s", thresholdsOwner),
					Severity: SeverityError,
				})
			} else if err := b.SetGlobalThresholds(*rs.Readability); err != nil {
				errs = append(errs, ValidationError{File: f.Path, Path: "readability", Message: err.Error(), Severity: SeverityError})
			} else {
				thresholdsOwner = f.Path
			}
		}
	}

	if len(errs) > 0 {
		return &LoadError{Errors: errs}
	}
	return nil
}

// ExpandSources resolves files, directories and glob patterns into a sorted,
// de-duplicated list of rule-set files.
func ExpandSources(sources []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	add := func(matches []string) {
		sort.Strings(matches)
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}

	for _, source := range sources {
		if isGlob(source) {
			matches, err := doublestar.FilepathGlob(source, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %s: %w", source, err)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("no rule files match %s", source)
			}
			add(matches)
			continue
		}

		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}
		if !info.IsDir() {
			add([]string{source})
			continue
		}

		rel, err := doublestar.Glob(os.DirFS(source), ruleFilePattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("failed to search %s: %w", source, err)
		}
		matches := make([]string, len(rel))
		for i, r := range rel {
			matches[i] = filepath.Join(source, filepath.FromSlash(r))
		}
		add(matches)
	}

	return files, nil
}

func isGlob(source string) bool {
	return strings.ContainsAny(source, "*?[{")
}

// IsRuleFile reports whether path has a rule-set file extension.
func IsRuleFile(path string) bool {
	_, err := formatOf(path)
	return err == nil
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported rule file type: %s", path)
	}
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(file string, err error) []ValidationError {
	var out []ValidationError

	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			File:     file,
			Path:     strings.Join(e.Path(), "."),
			Severity: SeverityError,
		}
		for _, pos := range cueerrors.Positions(e) {
			if pos.Filename() == file {
				ve.Line = pos.Line()
				ve.Column = pos.Column()
				break
			}
		}
		format, args := e.Msg()
		ve.Message = fmt.Sprintf(format, args...)
		out = append(out, ve)
	}

	return out
}

// convertValidatorErrors converts struct tag failures to ValidationError slice.
func convertValidatorErrors(file string, err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{File: file, Message: err.Error(), Severity: SeverityError}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			File:     file,
			Path:     fe.Namespace(),
			Message:  fmt.Sprintf("failed on the %q constraint", fe.Tag()),
			Severity: SeverityError,
		})
	}
	return out
}
