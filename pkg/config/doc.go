// Package config loads validation rule sets from files.
//
// # Overview
//
// A rule set declares policy specifications (required sections, rules and
// readability overrides), control-to-keyword mappings and global
// readability thresholds. Rule sets are written in YAML, JSON or CUE; every
// format is unified with the built-in #RuleSet CUE schema and checked with
// struct tags before it reaches the rule store, so a malformed file never
// produces a partial snapshot.
//
// # Components
//
// Parser: expands file, directory and doublestar glob sources, decodes each
// file and reports problems with file locations.
//
// SchemaRegistry: holds compiled CUE schemas. The "ruleset" schema is
// registered by default.
//
// Watcher: rebuilds the snapshot when rule files change (fsnotify,
// debounced) and swaps it into a rules.Holder. Validations in flight keep
// the snapshot they started with.
//
// ReadMappingsCSV: imports control mappings from a spreadsheet export.
//
// # File Format
//
//	version: "1"
//	readability:
//	  min_reading_ease: 30
//	  max_avg_sentence_length: 25
//	  min_words: 50
//	controls:
//	  - control_id: A.8.24
//	    title: Use of cryptography
//	    keywords: [encryption, cryptographic]
//	policies:
//	  - policy_type: Cryptography Policy
//	    controls: ["A.8.24"]
//	    required_sections:
//	      - name: Purpose
//	      - name: Scope
//	        min_length: 40
//	    rules:
//	      - id: key-management
//	        kind: keyword_presence
//	        severity: warning
//	        keywords: [key management, key rotation]
//
// # Usage Example
//
//	parser := config.NewParser()
//	snap, parsed, err := parser.Load(ctx, []string{"rules/"})
//	if err != nil {
//	    for _, e := range parsed.Errors {
//	        fmt.Println(e)
//	    }
//	}
//
//	holder := rules.NewHolder(snap)
//	w := config.NewWatcher(parser, holder, []string{"rules/"}, config.WatcherOptions{Logger: logger})
//	_ = w.Watch(ctx)
package config
