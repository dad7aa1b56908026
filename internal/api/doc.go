// Package api exposes the HTTP front door of GatewayHMA: one endpoint that runs
// an orchestration cycle, a health probe and the Prometheus scrape endpoint.
package api
