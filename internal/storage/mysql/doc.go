// Package mysql opens pooled MySQL connections for the run store.
package mysql
