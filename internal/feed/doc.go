// Package feed defines the external ranking feed contract: partitions, entities,
// pages and the client interface the crawler drives. Concrete transports live in
// subpackages; this package must not import HTTP or database clients.
package feed
