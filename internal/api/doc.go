// Package api exposes the REST surface of marketd: submitting scenario runs,
// inspecting their reports, listing configured networks and serving health
// and Prometheus metrics endpoints.
package api
