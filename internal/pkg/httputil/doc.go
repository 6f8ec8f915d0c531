// Package httputil holds the JSON response helpers shared by the API
// handlers and the error envelope the sender client decodes.
package httputil
