// Package scraper polls smoker controllers and sensor endpoints and
// normalizes their output into samples for shipping. Two source flavors are
// supported: the controller's own flat JSON snapshot, and a Prometheus text
// exposition for hardware fronted by an exporter.
package scraper
