// Package logx is a thin leveled wrapper over zerolog.
//
// Console output is human-readable, file output is JSON, and a Service can swap
// both at runtime when the config reloads.
package logx
