// Package api is the HTTP ingress: operation submission and status,
// provider administration, queue and rate-limit metrics, and health.
package api
