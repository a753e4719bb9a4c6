// Package cryptostore manages the service encryption key and seals per-user
// fact blobs with XChaCha20-Poly1305. The key is created once on first start
// and loaded on every later start.
package cryptostore
