// Package sanitize turns the host gateway's configuration into something
// safe to upload.
//
// Sanitize never copies a section wholesale. Each known section (agents,
// channels, models, plugins, gateway, tools) is projected onto a fixed set of
// non-sensitive fields, and the projection is then walked by Redact, which
// drops any key that looks like a credential and masks string values that
// carry a well-known token prefix.
package sanitize
