// Package portal implements the captive portal HTTP server.
//
// The server speaks a deliberately small subset of HTTP/1.1: each
// connection gets exactly one read, one response and is then closed. There
// is no keep-alive, chunked encoding or header-driven behaviour.
//
// # Routing
//
//	POST <submit path>   form with ssid and password; acknowledged with
//	                     200 text/plain and emitted as a Submission
//	anything else        the portal page, 200 text/html, or 500 text/plain
//	                     when the page cannot be loaded
//
// Credentials are saved only when both fields are non-empty. A Submission
// is emitted either way so the caller can decide what to do with it; it is
// sent after the connection is closed.
package portal
