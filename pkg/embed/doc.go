// Package embed turns book text into fixed-length vectors and keeps stored
// vectors current.
//
// Two [Embedder] implementations are provided. [HashEmbedder] runs
// in-process with no model: it hashes words and character trigrams into a
// fixed number of buckets with BLAKE3, so texts sharing vocabulary or word
// fragments score as similar. [HTTPEmbedder] calls an OpenAI-compatible
// /v1/embeddings endpoint for deployments with a real sentence model.
//
// Vectors are persisted as CBOR (see [EncodeVector]). New or edited books
// are indexed out of band by a [Queue], which retries failures and keeps
// counters so that indexing problems are visible rather than silent.
package embed
