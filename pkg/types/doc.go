// Package types holds the shared data model: DocID, the tagged
// attribute Value, and Document.
package types
