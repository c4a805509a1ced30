/*
Package dbpath provides a structured representation of database paths.

A path is a slash-separated sequence of segments rooted at the node `root`,
e.g. `root/sweep/bias_voltage`. The last segment of an entry path is the
entry name; everything before it is the node that holds the entry.

This package centralizes parsing and formatting so that the database and the
task tree agree on what a valid path looks like.
*/
package dbpath
