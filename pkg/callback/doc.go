// Package callback runs the loopback HTTP listener that receives the
// browser redirect completing an OAuth authorization flow.
//
// The listener binds a loopback address at construction (port 0 asks the
// OS for one), accepts connections on a background worker and handles
// each connection on its own worker. A request to /callback raises the
// callback event carrying the absolute redirect URI and answers with a
// redirect to /finished, so the address bar stops showing the
// authorization code and a refresh cannot replay the callback. The
// /finished success page, its stylesheet and script, and a favicon are
// served from an embedded asset store; everything else is a 404.
//
//	ln, err := callback.NewListener(callback.Config{})
//	if err != nil { ... }
//	if err := ln.Start(); err != nil { ... }
//	defer ln.Stop()
//
//	// register ln.CallbackURL() as the grant's redirect endpoint,
//	// open the authorization URL, then:
//	uri := <-ln.Events()
//
// The listener speaks plain HTTP: the redirect never leaves the device,
// so there is no TLS termination here. Malformed requests, oversized
// heads and handler panics are answered with error pages and never take
// down the accept loop.
package callback
