package config

import (
	"time"

	"github.com/pricewire/leadlag/internal/model"
)

// Default values for optional configuration fields.
const (
	DefaultPort        = 8080
	DefaultMetricsPath = "/metrics"

	DefaultSpotTradeURL = "wss://stream.binance.com:9443/ws/btcusdt@trade"
	DefaultAggTradeURL  = "wss://stream.binance.com:9443/ws/btcusdt@aggTrade"
	DefaultOracleURL    = "wss://ws-live-data.polymarket.com"
	DefaultOrderbookURL = "wss://ws-subscriptions-clob.polymarket.com"

	DefaultOracleTopic  = "crypto_prices_chainlink"
	DefaultOracleSymbol = "btc/usd"
	DefaultPingInterval = 5 * time.Second

	// The upstream source carried a stray "500ms" comment next to this value;
	// 100ms is the effective behavior and the one implemented here.
	DefaultOrderbookThrottle = 100 * time.Millisecond

	DefaultGammaURL            = "https://gamma-api.polymarket.com"
	DefaultSlugPrefix          = "btc-updown-15m"
	DefaultMarketWindow        = 15 * time.Minute
	DefaultResolverTimeout     = 10 * time.Second
	DefaultResolverRetryDelay  = 5 * time.Second
	DefaultTradeReconnectDelay = 3 * time.Second
	DefaultBookBaseWait        = 1 * time.Second
	DefaultBookMaxWait         = 30 * time.Second

	DefaultRelayBufferSize = 1024

	DefaultMovementThreshold = 0.01 // percent
	DefaultLeaderTieWindow   = 100 * time.Millisecond
	DefaultResponseWindow    = 5 * time.Second
	DefaultCorrelationWindow = 10 * time.Second
	DefaultCorrelationDepth  = 20
	DefaultMovementBuffer    = 50
	DefaultSeriesBucket      = 1 * time.Second
	DefaultSeriesMax         = 100
)

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = DefaultMetricsPath
	}

	if c.Venues.SpotTrade.URL == "" {
		c.Venues.SpotTrade.URL = DefaultSpotTradeURL
	}
	if c.Venues.AggTrade.URL == "" {
		c.Venues.AggTrade.URL = DefaultAggTradeURL
	}
	if c.Venues.Oracle.URL == "" {
		c.Venues.Oracle.URL = DefaultOracleURL
	}
	if c.Venues.Oracle.Topic == "" {
		c.Venues.Oracle.Topic = DefaultOracleTopic
	}
	if c.Venues.Oracle.Symbol == "" {
		c.Venues.Oracle.Symbol = DefaultOracleSymbol
	}
	if c.Venues.Oracle.PingInterval == 0 {
		c.Venues.Oracle.PingInterval = DefaultPingInterval
	}
	if c.Venues.Orderbook.URL == "" {
		c.Venues.Orderbook.URL = DefaultOrderbookURL
	}
	if c.Venues.Orderbook.PingInterval == 0 {
		c.Venues.Orderbook.PingInterval = DefaultPingInterval
	}
	if c.Venues.Orderbook.Throttle == 0 {
		c.Venues.Orderbook.Throttle = DefaultOrderbookThrottle
	}

	if c.Resolver.GammaURL == "" {
		c.Resolver.GammaURL = DefaultGammaURL
	}
	if c.Resolver.SlugPrefix == "" {
		c.Resolver.SlugPrefix = DefaultSlugPrefix
	}
	if c.Resolver.Window == 0 {
		c.Resolver.Window = DefaultMarketWindow
	}
	if c.Resolver.Timeout == 0 {
		c.Resolver.Timeout = DefaultResolverTimeout
	}
	if c.Resolver.RetryDelay == 0 {
		c.Resolver.RetryDelay = DefaultResolverRetryDelay
	}

	if c.Reconnect.TradeDelay == 0 {
		c.Reconnect.TradeDelay = DefaultTradeReconnectDelay
	}
	if c.Reconnect.BookBaseWait == 0 {
		c.Reconnect.BookBaseWait = DefaultBookBaseWait
	}
	if c.Reconnect.BookMaxWait == 0 {
		c.Reconnect.BookMaxWait = DefaultBookMaxWait
	}

	if c.Relay.BufferSize == 0 {
		c.Relay.BufferSize = DefaultRelayBufferSize
	}

	if c.Signal.MovementThreshold == 0 {
		c.Signal.MovementThreshold = DefaultMovementThreshold
	}
	if c.Signal.LeaderTieWindow == 0 {
		c.Signal.LeaderTieWindow = DefaultLeaderTieWindow
	}
	if c.Signal.ResponseWindow == 0 {
		c.Signal.ResponseWindow = DefaultResponseWindow
	}
	if c.Signal.CorrelationWindow == 0 {
		c.Signal.CorrelationWindow = DefaultCorrelationWindow
	}
	if c.Signal.CorrelationDepth == 0 {
		c.Signal.CorrelationDepth = DefaultCorrelationDepth
	}
	if c.Signal.MovementBuffer == 0 {
		c.Signal.MovementBuffer = DefaultMovementBuffer
	}
	if c.Signal.SeriesBucket == 0 {
		c.Signal.SeriesBucket = DefaultSeriesBucket
	}
	if c.Signal.SeriesMax == 0 {
		c.Signal.SeriesMax = DefaultSeriesMax
	}
	if c.Signal.LeadingSource == "" {
		c.Signal.LeadingSource = model.SourceAggTrade
	}
	if c.Signal.LaggingSource == "" {
		c.Signal.LaggingSource = model.SourceOracle
	}
}
