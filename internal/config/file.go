package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors the subset of settings that may be tuned from a TOML
// file. Unset keys leave the environment value untouched.
type fileConfig struct {
	Vision struct {
		Provider       *string  `toml:"provider"`
		BaseURL        *string  `toml:"base_url"`
		ModelOverride  *string  `toml:"model_override"`
		FallbackModels []string `toml:"fallback_models"`
		TimeoutSeconds *int     `toml:"timeout_seconds"`
	} `toml:"vision"`
	Retry struct {
		Attempts    *int `toml:"attempts"`
		BaseDelayMS *int `toml:"base_delay_ms"`
		MaxDelayMS  *int `toml:"max_delay_ms"`
	} `toml:"retry"`
	Quota struct {
		UserDaily     *int  `toml:"user_daily"`
		PropertyDaily *int  `toml:"property_daily"`
		Bypass        *bool `toml:"bypass"`
	} `toml:"quota"`
	Scan struct {
		DuplicateMatch *bool `toml:"duplicate_match"`
		MaxImages      *int  `toml:"max_images"`
		MaxImageBytes  *int  `toml:"max_image_bytes"`
		ImageMaxWidth  *int  `toml:"image_max_width"`
		JPEGQuality    *int  `toml:"jpeg_quality"`
	} `toml:"scan"`
	Archive struct {
		Enabled *bool   `toml:"enabled"`
		Backend *string `toml:"backend"`
		Bucket  *string `toml:"bucket"`
	} `toml:"archive"`
}

// ApplyFile overlays the TOML file at path onto c.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return c.ApplyTOML(data)
}

// ApplyTOML overlays a TOML document onto c.
func (c *Config) ApplyTOML(data []byte) error {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parse toml: %w", err)
	}

	setString(&c.VisionProvider, fc.Vision.Provider)
	setString(&c.VisionBaseURL, fc.Vision.BaseURL)
	setString(&c.VisionModelOverride, fc.Vision.ModelOverride)
	if len(fc.Vision.FallbackModels) > 0 {
		c.VisionFallbackModels = fc.Vision.FallbackModels
	}
	if fc.Vision.TimeoutSeconds != nil {
		c.VisionTimeout = time.Duration(*fc.Vision.TimeoutSeconds) * time.Second
	}

	setInt(&c.RetryMaxAttempts, fc.Retry.Attempts)
	if fc.Retry.BaseDelayMS != nil {
		c.RetryBaseDelay = time.Duration(*fc.Retry.BaseDelayMS) * time.Millisecond
	}
	if fc.Retry.MaxDelayMS != nil {
		c.RetryMaxDelay = time.Duration(*fc.Retry.MaxDelayMS) * time.Millisecond
	}

	setInt(&c.QuotaUserDaily, fc.Quota.UserDaily)
	setInt(&c.QuotaPropertyDaily, fc.Quota.PropertyDaily)
	setBool(&c.QuotaBypass, fc.Quota.Bypass)

	setBool(&c.DuplicateMatchEnabled, fc.Scan.DuplicateMatch)
	setInt(&c.MaxImagesPerScan, fc.Scan.MaxImages)
	if fc.Scan.MaxImageBytes != nil {
		c.MaxImageBytes = int64(*fc.Scan.MaxImageBytes)
	}
	setInt(&c.ImageMaxWidth, fc.Scan.ImageMaxWidth)
	setInt(&c.ImageJPEGQuality, fc.Scan.JPEGQuality)

	setBool(&c.ArchiveEnabled, fc.Archive.Enabled)
	setString(&c.ArchiveBackend, fc.Archive.Backend)
	setString(&c.ArchiveBucket, fc.Archive.Bucket)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
