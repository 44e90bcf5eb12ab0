// Package client executes single HTTP requests for traffic replay.
//
// # Quick Start
//
//	c := client.New(client.WithTimeout(10 * time.Second))
//	resp, err := c.Do(ctx, client.Request{
//	    Method:  "GET",
//	    URL:     "https://staging.example.com/v1/users",
//	    Headers: map[string]string{"Accept": "application/json"},
//	})
//
// # Per-request Behavior
//
// Each Request can override the timeout, disable redirect following, skip
// TLS verification and attach basic or bearer credentials:
//
//	follow := false
//	resp, err := c.Do(ctx, client.Request{
//	    URL:                "https://localhost:8443/login",
//	    FollowRedirects:    &follow,
//	    InsecureSkipVerify: true,
//	    Auth:               &client.Auth{Type: client.AuthBearer, Token: tok},
//	})
//
// Non-2xx responses are returned normally. Transport failures return an
// error; deadline failures wrap ErrTimeout.
//
// # Headers
//
// Request header names are sent with the case given. Response headers are
// sorted by name and can be read with Headers.Get or flattened with
// Headers.Map:
//
//	contentType := resp.Headers.Get("Content-Type")
//	cookies := resp.Cookies
//
// # Timings
//
// Response.Timings reports DNS, connect, TLS handshake, time to first byte
// and total duration in milliseconds.
package client
