// Package orbit is a client engine for a record data API.
//
// Orbit covers the three ways records reach the server:
//
//   - Single writes and queries through the REST surface (package restapi).
//   - Units of work: a set of creates, updates and deletes whose records may
//     point at each other before any of them exists, committed atomically as
//     one composite graph (package composite).
//   - Bulk ingest: an unbounded record stream split into byte-bounded CSV
//     batches, each driven through its own ingest job with bounded
//     concurrency and independent failure (packages csvbatch and bulk).
//
// Package dataapi puts all three behind a single Client built from a
// config.ClientConfig.
//
// # Quick Start
//
//	cfg, err := config.LoadClientConfig("orbit.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	api, err := dataapi.New(cfg, logger.Get())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer api.Close()
//
//	job, err := api.NewBulkJob("Contact", bulk.OperationInsert).
//		Records(source.FromCSV(file, "Contact")).
//		Build()
//	results, err := api.Submit(ctx, job)
//	for _, res := range results {
//		if !res.OK() {
//			// res.Records were not committed
//		}
//	}
//
// # Records and References
//
// A record.Record is an ordered set of named values of one object type. A
// value is either a JSON scalar or a record.ReferenceID, a handle to a record
// registered earlier in the same unit of work. References are resolved by the
// server when the graph commits and are rejected everywhere else, including
// bulk CSV batches.
//
// # Bulk Batching
//
// A batch holding more than one record never exceeds the configured byte
// ceiling (100,000,000 by default), header row included. Every record read from the source lands in exactly
// one batch, in source order. A single record larger than the ceiling gets a
// batch of its own marked Oversized, or a validation error when
// bulk.reject_oversized is set.
//
// Failed batches are aborted remotely and, when a spool is configured, their
// CSV is kept in a directory or an S3 bucket for replay.
//
// # Command Line
//
// cmd/orbit wraps the client: orbit query, orbit bulk (from CSV or a
// PostgreSQL query) and orbit config.
package orbit
