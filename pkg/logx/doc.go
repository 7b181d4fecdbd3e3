// Package logx provides a thin structured-logging layer over zerolog with
// runtime-reconfigurable sinks: console, file, and a rate-limited mirror
// into a Discord text channel.
package logx
