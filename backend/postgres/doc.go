// Package postgres stores records and embeddings in one Postgres table using
// the pgvector extension. Cosine distance (<=>) drives ranking; tags, the
// info table and the change log live alongside in the configured schema.
package postgres
