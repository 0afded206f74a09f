// Package run queues scenario runs and records their outcome. A Service
// accepts requests and publishes run ids; a Processor consumes them, executes
// the scenario and retries runs whose verdict was inconclusive.
package run
