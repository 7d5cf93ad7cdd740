// Package model defines the records, query shapes and error taxonomy shared
// by the memory engine, its backends and its embedders.
package model
