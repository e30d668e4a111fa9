package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.MetricsPath, "/") {
		return fmt.Errorf("server.metrics_path must start with /, got %q", c.Server.MetricsPath)
	}

	for name, url := range map[string]string{
		"venues.spot_trade.url": c.Venues.SpotTrade.URL,
		"venues.agg_trade.url":  c.Venues.AggTrade.URL,
		"venues.oracle.url":     c.Venues.Oracle.URL,
		"venues.orderbook.url":  c.Venues.Orderbook.URL,
	} {
		if err := validateWSURL(name, url); err != nil {
			return err
		}
	}

	if c.Venues.Oracle.Topic == "" {
		return errors.New("venues.oracle.topic is required")
	}
	if c.Venues.Oracle.Symbol == "" {
		return errors.New("venues.oracle.symbol is required")
	}
	if c.Venues.Orderbook.Throttle < 0 {
		return errors.New("venues.orderbook.throttle must be >= 0")
	}

	if c.Resolver.GammaURL == "" {
		return errors.New("resolver.gamma_url is required")
	}
	if c.Resolver.Window <= 0 {
		return errors.New("resolver.window must be > 0")
	}
	if c.Resolver.RetryDelay <= 0 {
		return errors.New("resolver.retry_delay must be > 0")
	}

	if c.Reconnect.TradeDelay <= 0 {
		return errors.New("reconnect.trade_delay must be > 0")
	}
	if c.Reconnect.BookBaseWait <= 0 {
		return errors.New("reconnect.book_base_wait must be > 0")
	}
	if c.Reconnect.BookMaxWait < c.Reconnect.BookBaseWait {
		return fmt.Errorf("reconnect.book_max_wait (%s) cannot be below book_base_wait (%s)",
			c.Reconnect.BookMaxWait, c.Reconnect.BookBaseWait)
	}

	if c.Relay.BufferSize < 1 {
		return errors.New("relay.buffer_size must be >= 1")
	}

	if c.Signal.MovementThreshold <= 0 {
		return errors.New("signal.movement_threshold must be > 0")
	}
	if c.Signal.CorrelationDepth < 2 {
		return errors.New("signal.correlation_depth must be >= 2")
	}
	if c.Signal.MovementBuffer < c.Signal.CorrelationDepth {
		return fmt.Errorf("signal.movement_buffer (%d) cannot be below correlation_depth (%d)",
			c.Signal.MovementBuffer, c.Signal.CorrelationDepth)
	}
	if c.Signal.SeriesMax < 1 {
		return errors.New("signal.series_max must be >= 1")
	}
	if c.Signal.LeadingSource == c.Signal.LaggingSource {
		return errors.New("signal.leading_source and signal.lagging_source must differ")
	}

	return nil
}

func validateWSURL(name, url string) error {
	if url == "" {
		return fmt.Errorf("%s is required", name)
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return fmt.Errorf("%s must be a ws:// or wss:// URL, got %q", name, url)
	}
	return nil
}
