// Package charts fans chart intents out to the external chart service.
//
// A turn hands the Coordinator its detected intents; every intent settles
// independently as a Result keyed by its fixed ordinal. Two admission
// layers bound the work: a per-dispatch gate (one turn never runs more than
// five calls at once) and a cross-turn weighted semaphore protecting the
// shared external quota.
//
// Chart-level failures never fail a turn. A timeout or service error
// settles the intent as omitted with a reason string; the caller records it
// as a degraded artifact and the client renders the rest of the message.
//
// The Renderer interface isolates the wire protocol. HTTPRenderer speaks
// the chart service's tool-call protocol; tests inject fakes with
// controllable latency and failures.
package charts
