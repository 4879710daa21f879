// Package api provides the HTTP API and WebSocket event stream for the DALI
// bridge.
//
// Read endpoints expose the light level cache and past commissioning runs.
// POST /api/v1/commissioning/runs starts a run and answers with its result
// once the run ends. Progress events are pushed to WebSocket clients
// subscribed to the "commissioning" channel while the request is pending.
//
// Every route except /health and /ws requires a bearer token issued by
// package auth. WebSocket clients first exchange their token for a
// single-use ticket.
//
//	hub := api.NewHub(cfg.WebSocket, logger)
//	server, err := api.New(api.Deps{..., Hub: hub})
//	server.Start(ctx)
//	defer server.Close()
package api
