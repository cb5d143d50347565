// Package resource shares limits between stores: a budget of mapped bytes
// (checked whenever a store grows its file) and a throughput limit plus
// concurrency cap for snapshot streams.
//
// A nil *Controller is valid and imposes no limits.
package resource
