// Package server implements the HTTP and WebSocket transport for echoes.
//
// The Hub owns the goroutines of every websocket Client and hands connect and
// disconnect events to the presence manager, which keeps the online-user
// table and broadcasts. REST routes are mounted from the api package.
package server
