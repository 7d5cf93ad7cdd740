// Package chromem splits a store between a SQLite metadata database and a
// chromem-go persistent vector collection under one directory.
//
// Writes are staged: the metadata transaction is prepared, vector changes
// are applied to the collection, then the metadata commits. A failed commit
// undoes the vector changes. Open reconciles vectors left behind by a crash
// between the two steps.
package chromem
