// Package server exposes the Contoso Pizza service over HTTP: the
// workshop-compatible calculator endpoint, the menu and order API, a
// streamable-HTTP MCP server that mirrors the local tool set, and a
// websocket feed that streams order status transitions.
//
// One http.ServeMux carries all routes. REST and MCP requests pass
// through a shared middleware that refuses work during shutdown, tracks
// in-flight requests for draining, applies a per-IP sliding-window rate
// limit, and records request metrics. The websocket feed upgrades
// outside that path because its connections are long-lived.
package server
