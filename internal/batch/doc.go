// Package batch fits many independent vertex candidates concurrently.
// Each candidate is one synchronous Fit; parallelism is across candidates
// only.
package batch
