// Package engine runs compiled recipes against a reduction context.
//
// A recipe is a list of steps. Each step names a primitive (Go code in a
// PrimitiveSet) or another recipe (bound by the Binder into a RECIPE set).
// The ReductionObject holds the sets for one astrotype, most specific
// first, and Substeps runs one named step on a ReductionContext.
//
// ARCHITECTURE:
//
// Lazy snapshots:
// Interpret and Substeps return iter.Seq2 sequences. Every yield hands the
// context back to the consumer, which is where the Driver services queued
// requests, processes pause requests and waits while paused. Nothing runs
// until the sequence is ranged over, and ranging twice runs twice.
//
// Step flow:
// 1. Interpret captures the recipe-local overlay once
// 2. a step whose conditional key is "false" is skipped, yielding once
// 3. otherwise the overlay becomes the step arguments, `[key]` resolved
// 4. Substeps collates parameters (CollateParams), records a begin mark,
// runs the step and records an end mark, which promotes outputs to inputs
// 5. Interpret yields once more after the step
//
// Parameter layering:
// Declarations decide who may set a parameter: the recipe (recipeOverride),
// the user and the ambient context (userOverride). Violations are
// ConfigurationErrors raised before the step runs.
//
// Ordering:
// History entries carry a wall time and a monotonic sequence from Clock so
// entries recorded within one clock tick still order correctly.
//
// Concurrency:
// A context is driven by one goroutine. Status and control methods are
// safe to call from others so an operator can pause or finish a run.
// Driver.RunBatch runs several contexts at once sharing one StackKeeper.
package engine
