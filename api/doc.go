// Package api exposes an Engine over HTTP.
//
// The router is built with gin. Every JSON response uses the Response
// envelope and engine errors map onto status codes:
//
//	core.ErrNotFound                 404
//	core.ErrStateConflict            409
//	core.ErrOverloaded, core.ErrBusy 503
//	core.ErrGeneration               502
//
// GET /ws upgrades into the websocket hub configured in Options.
package api
