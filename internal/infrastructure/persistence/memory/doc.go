// Package memory provides in-process implementations of the pipeline stores.
// They back the CLI's dry runs and the application tests; state is lost on exit.
package memory
