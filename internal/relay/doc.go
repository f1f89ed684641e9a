// Package relay implements the webhook relay core: signature verification,
// event classification and normalization, message rendering, and the HTTP
// dispatchers that tie them to a delivery sink.
//
// # Security Model
//
// - Remnawave signatures are HMAC-SHA256 over the canonical request bytes,
//   compared with crypto/subtle (constant-time)
// - The alert endpoint authenticates with a URL-embedded token
// - Body size limits enforced to prevent DoS
// - Secrets never appear in logs or rendered output
// - Request logging excludes payload bodies
//
// # Request Flow (Remnawave)
//
//  1. HTTP POST arrives at /webhook/remnawave
//  2. Body size checked (413 if too large)
//  3. HMAC-SHA256 verified over the raw body (403 on mismatch)
//  4. JSON parsed; malformed bodies degrade to a raw-text payload
//  5. Events outside the allow-list are acknowledged with 200 "Ignored"
//  6. The event family's normalizer coerces and derives template fields
//  7. The family template renders bounded HTML-flavored text
//  8. One delivery attempt to the sink, then 200 "OK"
//
// Malformed payloads are never an error: the relay favors delivering a
// degraded message over rejecting a request that already authenticated.
package relay
