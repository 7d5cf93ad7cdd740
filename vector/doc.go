// Package vector holds the embedding BLOB encoding shared by every SQLite
// table in this module, plus the similarity math used by the in-memory
// indexes:
//   - EncodeEmbedding / DecodeEmbedding: little-endian float32 BLOBs
//   - CosineSimilarity, L2Distance
//   - Normalize and Magnitude helpers
package vector
