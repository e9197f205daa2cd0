// Package oauth implements the broker's OAuth 1.0a variant: request signing and the
// Live Session Token (LST) handshake.
//
// # Overview
//
// The broker issues a long-lived access token and secret out of band. Before any API
// call the client derives a short-lived LST from them:
//  1. Generate an ephemeral Diffie-Hellman key pair (g = 2, broker prime).
//  2. Sign a POST to /oauth/live_session_token with RSA-SHA256, carrying the public
//     value as diffie_hellman_challenge.
//  3. Decrypt the returned prepend with the encryption key (PKCS#1 v1.5).
//  4. Compute the DH shared secret from the broker's public value.
//  5. LST = HMAC-SHA256(access token secret, prepend || shared secret).
//  6. Verify hex(HMAC-SHA256(LST, consumer key)) against the broker signature.
//
// Every later request is signed with HMAC-SHA256 keyed by the LST.
//
// # Canonicalisation
//
// BaseString follows RFC 5849 section 3.4.1 with RFC 3986 percent-encoding. Any
// deviation produces a signature the broker silently rejects, so the encoder is
// covered by fixed vectors.
//
// # Errors
//
// Key file and credential problems are errs.CodeConfiguration. Signing failures and
// LST validation mismatches are errs.CodeAuth. Transport failures reaching the
// broker are errs.CodeNetwork.
//
// # Security notes
//
// Private DH exponents and intermediate secrets are zeroed once an exchange attempt
// ends. The LST itself is owned by the caller and never logged.
package oauth
