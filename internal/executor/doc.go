// Package executor runs an operation breadth first against a Runtime,
// resolving synchronous fields immediately and batching asynchronous fields
// once per depth.
//
// # Preparation
//
// ExecuteRequest picks the operation (by name, or the only one), coerces the
// variable values against its variable definitions, and evaluates @skip and
// @include so that field collection never sees conditional selections. The
// root selection set is then collected under the root operation type.
//
// # Collection
//
// Selection sets are collected by a collector.Collector. A selection set
// written against an interface or union yields the groups that apply to every
// possible type plus one variant per concrete type; the executor completes an
// abstract value by resolving its runtime type and executing the groups of
// that type's variant. Collected variant sets are cached across requests.
// Unknown fragments and type conditions that can never match are reported as
// diagnostics and the affected selections are skipped; the diagnostics of a
// request are returned in ExecutionResult.Diagnostics, deduplicated, and
// forwarded to the sink given with WithDiagnostics.
//
// # Depths
//
// Each depth runs three steps until no work is left:
//
//	A. Sync expansion. Fields with schema.Field.Async false are resolved via
//	   Runtime.ResolveSync and completed on the spot; object results expand
//	   further without starting a new depth. Async fields become tasks.
//
//	B. Batch. All tasks of the depth, minus those under paths already
//	   nullified, go to one Runtime.BatchResolveAsync call. The runtime returns
//	   one result per task in task order.
//
//	C. Completion. Each batch result is completed; async fields found below it
//	   are queued for the next depth.
//
// For a query whose deepest async chain has length d, BatchResolveAsync is
// called exactly d times.
//
// Mutations run their top-level fields one at a time: all depths below a
// field are drained before the next field is resolved, so side effects happen
// in document order.
//
// # Completion and errors
//
// Lists complete element-wise with index paths. Leaves go through
// Runtime.SerializeLeafValue. Abstract values go through Runtime.ResolveType,
// and the returned name must be a possible type of the declared type.
//
// Errors are located by response path. A null or failed Non-Null field nulls
// its nearest nullable ancestor, async fields included, and at the top level
// only the field itself. The nulled position becomes a tombstone: tasks
// queued under it are dropped and later writes under it are ignored. Batch results fail
// independently, so one request can partially succeed.
//
// # Paths
//
// Response paths are built from path segments taken from a per-request pool
// of WithSegmentCapacity segments. Pools are recycled between requests.
// A request that needs more segments continues on heap segments and reports
// an events.SegmentPoolOverflow.
package executor
