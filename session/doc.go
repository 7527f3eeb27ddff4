// Package session defines the session data model shared by the sessionkit
// root package and its flow runners: the backend-issued token pair, the
// cached user profile, and the JSON codec used to persist the current
// session in a plain key-value store.
//
// # Architecture boundaries
//
// This package owns the Session and UserProfile value types and their
// wire encoding. It performs no I/O and imports no sibling package.
package session
