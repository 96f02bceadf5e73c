// Package document reads generated policy documents for validation.
//
// Generators return markdown, markdown wrapped in a code fence, or HTML. A
// Reader strips a UTF-8 byte order mark, normalizes line endings and turns
// HTML into GitHub-flavored markdown, so the engine's outline parser sees
// real headings in every case. Reading never touches the network.
package document
