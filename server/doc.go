/*
Package server is the operator-facing HTTP surface of the run
coordination service.

It exposes lock inspection and administrative force-release, audit chain
queries, integrity verification, signed multi-format export, checkpoint
inspection and a live websocket audit tail, plus health, readiness and
Prometheus metrics endpoints. Requests on /v1 pass through bearer-token
auth (tenant_id claim) and per-tenant rate limiting when configured.
*/
package server
