// Package indicator defines the core types shared across the ingestion
// pipeline: fetched page records, persisted analyses, the audit log, search
// filters, the error taxonomy, and the interfaces each stage implements.
package indicator
