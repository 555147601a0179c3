// Package events fans instance notifications and per-instance workload
// commands out to subscribers.
//
// Delivery is best effort. Every subscriber owns a bounded buffer; when it is
// full the oldest undelivered item is discarded so publishers never block.
package events
