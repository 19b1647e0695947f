// Package types defines the value types shared by the connector, the entity
// model and the backend adapters: configuration, paging, and the standard
// errors every operation reports.
package types
