// Package logx wraps zerolog for the service.
//
// Console output uses a short timestamp and caller; file output is JSON.
// Level and sinks can be swapped while running through Service.Apply.
package logx
