// Package integration contains the ERP sync bounded context.
// This context pulls business entities from an external ERP, reconciles them
// against locally held canonical state and records every change as an event.
//
// Key concepts:
//   - RawRecord: unmodified source payload as it landed, tagged with a batch id
//   - CanonicalEntity: normalized, source-agnostic business object
//   - DomainEvent: immutable record of one reconciled change
//   - SourceConnector: port for paginated, watermark-filtered fetches from the ERP
//   - EntityMapping: per entity type field declarations driving normalization
//   - SyncRun: operational summary of one reconciliation pass
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
