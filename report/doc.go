// Package report aggregates the results of repeated cluster runs into the
// performance, scalability and efficiency tables of a benchmark sweep.
//
// Each run is first reduced to the average and the maximum communication time
// over its peers. Runs sharing strategy, process count and message size are
// then averaged together.
package report
