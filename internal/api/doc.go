// Package api is the localhost HTTP bridge between the subsystem and
// the renderer. Every command the shell issues maps to a route here,
// responses share a {ok, error} envelope, and status notifications are
// pushed over the /stream websocket.
package api
