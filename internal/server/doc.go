/*
Package server manages the HTTP/HTTPS listener lifecycle: non-blocking
start, graceful shutdown and signal handling.

Manager wraps net/http.Server with a listener, an asynchronous error
channel and Start/StartTLS/Shutdown/WaitForShutdown lifecycle methods.
WaitForShutdown blocks on SIGINT/SIGTERM or a serve error and then
drains in-flight requests within the configured shutdown timeout.
*/
package server
