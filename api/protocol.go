package api

const (
	// MaxBodySize caps request bodies, after gzip decoding when compressed.
	MaxBodySize = 1 << 20

	// HeaderIdempotencyKey lets clients retry a create or save safely.
	HeaderIdempotencyKey = "Idempotency-Key"
)
