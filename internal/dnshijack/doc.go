// Package dnshijack implements the captive portal DNS responder.
//
// Every well-formed query is answered with a single A record pointing at
// the portal address, whatever name was asked for. The responder never
// forwards, caches or resolves; it only redirects.
//
// # Response Format
//
//	header   id echoed, flags 0x8180, qdcount echoed, ancount 1,
//	         nscount 0, arcount 0
//	question echoed verbatim
//	answer   name 0xC00C, type A, class IN, ttl, rdlength 4, portal IPv4
//
// Packets that are oversized, shorter than a header, responses, or that
// carry a truncated question are dropped without a reply.
//
// # Memory Headroom
//
// Before each read the responder consults a Headroom source and skips the
// cycle when available memory is below the configured threshold, pausing
// briefly instead of reading. The default source samples system memory with
// gopsutil.
package dnshijack
