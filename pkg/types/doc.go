// Package types defines the shared data model for the optimization engine:
// artifacts and their scores, session rounds and results, distributed tasks
// and workers, batch reports, and the configuration records consumed by each
// component.
package types
