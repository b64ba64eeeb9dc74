// Package logx is the service's structured logger: a thin value type over
// zerolog whose sinks and level can be swapped while loggers derived from it
// are in use.
//
// Console output is human readable with a short file:line caller; the
// optional file sink is JSON, one event per line.
package logx
