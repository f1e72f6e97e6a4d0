// Package auth resolves client credentials into sessions. Resolution
// tries the supplied forms in a fixed order: session ID, API key, bearer
// token. The external token verifier sits behind a circuit breaker so a
// failing authority cannot stall message dispatch.
package auth
