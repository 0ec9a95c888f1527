// Package memory provides the word arena that backs every heap structure:
// type records, AST nodes, node vectors and boxed dynamic objects.
//
// The arena is a single fixed-capacity slice of uint64 words. Addresses are
// word indices into that slice; index 0 is reserved so that a zero word can
// always mean "null". Free space is tracked by a best-fit free list ordered
// by region size. Nothing ever moves: the collector only rebuilds the free
// list as the complement of the regions it found alive.
package memory
