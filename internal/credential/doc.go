// Package credential persists the opaque credential blob of the paired
// device, either as a file on disk or as a row in a SQL table.
package credential
