// Package embed converts text into fixed-dimension vectors.
//
// The local Hash embedder is deterministic and dependency free, Ollama and
// OpenAI call remote providers, FastEmbed runs an ONNX model in process
// (build tag fastembed). Cached wraps any of them with a bounded cache.
package embed
