// Package log provides structured logging for syncbridge built on
// zerolog. Call Init once at startup, then derive component-scoped
// child loggers with WithComponent and friends.
package log
