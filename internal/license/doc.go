// Package license implements the entitlement core that gates paid forgecli
// features behind cryptographically verifiable licenses.
//
// # Architecture Overview
//
// The package is layered leaf to root:
//
//	- Validator: decodes a compact signed token, verifies its signature and
//	  standard claims, extracts tier/features/customer claims
//	- Evaluator: license file discovery plus a short-TTL revalidation cache
//	  keyed by the file's content fingerprint
//	- Client: authenticated calls to an allow-listed remote verifier with
//	  bounded retries and timeouts
//	- VerificationCache: durable, atomically written last-known-good
//	  entitlement record, bound to the token's SHA-256 hash
//	- Engine: one allow/deny plus effective-tier decision per request
//
// # Decision Flow
//
// The engine measures cache age from the last successful verification:
//
//	1. No cache yet: remote verify, persist, decide from the verifier
//	2. Age within the fresh window: trust the cache, no network call
//	3. Stale: remote verify; if unreachable, offline grace applies only to
//	   a valid cached record bound to the presented token and still before
//	   its expiry
//	4. Expired entitlement: always deny
//
// Absence of proof resolves to the community tier. License expiry is a
// normal outcome, not an exception; the only hard failure is a paid tier
// explicitly requested and not substantiated.
//
// # Security Measures
//
//	- RS256 signature verification against a pinned public key; the HS256
//	  development mode requires an explicit opt-in flag
//	- Verifier URLs checked against a fixed allow-list before any request
//	- Tokens never logged in full: hash hints and masked prefixes only
//	- Cached entitlements bound to the token hash, so a token swap
//	  invalidates the cache
//
// # Concurrency
//
// All types are safe for concurrent use. The persistent cache mirror is
// guarded by a mutex with file I/O kept outside the critical section;
// cross-process consistency relies on atomic rename, and racing writers are
// harmless because the cache is advisory, never the authority.
package license
