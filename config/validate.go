package config

import (
	"github.com/lumastream/luma/errors"
)

// validModes mirrors model.AllModes; kept as strings here so config does not
// depend on the model package.
var validModes = map[string]bool{
	"fast":     true,
	"balanced": true,
	"accurate": true,
	"sota":     true,
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func Validate(c *Config) error {
	if !validModes[c.Models.DefaultMode] {
		return errors.Newf("models.default_mode %q is not one of fast|balanced|accurate|sota", c.Models.DefaultMode)
	}
	for _, m := range c.Models.Prewarm {
		if !validModes[m] {
			return errors.Newf("models.prewarm contains unknown mode %q", m)
		}
	}
	for m := range c.Models.Paths {
		if !validModes[m] {
			return errors.Newf("models.paths contains unknown mode %q", m)
		}
	}
	if c.Pipeline.MaxInFlight < 1 {
		return errors.Newf("pipeline.max_in_flight must be >= 1, got %d", c.Pipeline.MaxInFlight)
	}
	if c.Pipeline.MinIntervalMS < 0 {
		return errors.Newf("pipeline.min_interval_ms must be >= 0, got %d", c.Pipeline.MinIntervalMS)
	}
	if c.Engine.WarmupIterations < 0 {
		return errors.Newf("engine.warmup_iterations must be >= 0, got %d", c.Engine.WarmupIterations)
	}
	if c.Reply.JPEGQuality < 1 || c.Reply.JPEGQuality > 100 {
		return errors.Newf("reply.jpeg_quality must be in [1,100], got %d", c.Reply.JPEGQuality)
	}
	if c.Reply.MaxWidth < 1 || c.Reply.MaxHeight < 1 {
		return errors.Newf("reply.max_width/max_height must be >= 1")
	}
	if c.Session.IdleTimeoutSeconds < 1 {
		return errors.Newf("session.idle_timeout_seconds must be >= 1, got %d", c.Session.IdleTimeoutSeconds)
	}
	return nil
}
