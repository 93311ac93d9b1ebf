// Package registry holds the in-memory provider configuration table.
package registry
