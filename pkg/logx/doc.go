// Package logx wraps zerolog for turtlebot.
//
// Console output is human readable with a short caller, the optional file sink
// is JSON, and records at or above a configured level can be forwarded to the
// operator chat under a rate limit.
package logx
