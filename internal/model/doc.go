// Package model defines shared data types used across the relay.
//
// Conventions:
//   - Prices: float64, dollars (order-book prices are probabilities 0-1)
//   - Timestamps: int64 milliseconds since Unix epoch unless noted
//   - Sources: string enums matching the outbound wire format
package model
