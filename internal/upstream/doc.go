// Package upstream is the boundary to the external versioned dataset.
//
// History exposes the dataset's revision log, Transformer turns one upstream
// record into a record.Candidate, and Lister combines History with a
// checkpoint to compute the set of record ids a sync pass must visit.
//
// The file-backed implementations read a YAML revision log (history.yaml) and
// one YAML candidate per record (<dir>/<type>/<id>.yaml). Cloning or pulling
// the real repositories and converting their documents happens upstream of
// this package.
package upstream
