// Package memory is the semantic memory engine: it embeds text, stores it
// with tags and metadata in a backend, and answers similarity and filtered
// queries.
//
// Embedding runs on a bounded worker pool before any write section is
// entered. Writes are serialized and atomic across metadata and vectors;
// reads share a consistent view and are retried once on transient errors.
package memory
