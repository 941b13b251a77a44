// Package table binds one mirrored table's schema, Index and
// DocumentStore together and provides the catalog of configured tables.
// Tables are cleared in place, never replaced: the apply engine holds
// their pointers for the whole process lifetime.
package table
