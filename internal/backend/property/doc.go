// Package property renders Go values as DBGP <property> elements.
//
// A Property is a lazy view over a reflected value. Its shape decides how
// children are enumerated: maps by sorted key, slices and arrays by index,
// structs by field. Pointers and interfaces are followed transparently and
// functions are described, never called. Children are paged by the
// max_children budget and nested up to the requested depth, so cyclic
// graphs render without cycle detection.
//
// Fullnames produced for children are path expressions that Resolve and
// Assign accept, which is how property_get and property_set address nested
// values.
package property
