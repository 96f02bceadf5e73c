// Package rules holds the declarative rule data of the validation engine:
// policy specifications, Annex A control mappings and readability thresholds.
//
// Rule data is published as immutable Snapshots built by a Builder. A Holder
// lets a refresh swap in a new Snapshot while validations that already hold
// the previous one keep reading it unchanged.
package rules
