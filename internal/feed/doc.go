// Package feed implements the upstream side of the relay.
//
// Each venue gets one Connector owning one WebSocket connection:
//   - spot trade and aggregated trade streams (no handshake)
//   - oracle price feed (topic subscription + JSON keep-alive pings)
//   - prediction-market order book (market subscription, batched updates)
//
// A Supervisor wraps each Connector with an explicit connection state
// machine and a per-venue backoff policy, and stops for good once the
// downstream sink reports the client is gone.
package feed
