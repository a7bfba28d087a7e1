// Package catalog loads the ordered list of artifact definitions that drive
// a collection run.
//
// A catalog comes from a YAML file or from a directory of plain-text command
// files (file stem = category, one command per line). Loading validates the
// whole catalog up front: malformed input never reaches a device.
package catalog
