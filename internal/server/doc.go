// Package server hosts the Fiber HTTP service, the request middleware chain
// and the error mapping shared by every route. It resolves the bundle type of
// /v2/bundles/:type against the bundletype registry and hands the request to a
// BundleHandler; diagnostics and legacy routes live in the routes subpackage.
// Keep exports narrow and accept explicit dependencies.
package server
