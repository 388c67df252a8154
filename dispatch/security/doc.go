// Package security detects sensitive field names so payload values can be
// redacted before they reach logs or span attributes.
package security
