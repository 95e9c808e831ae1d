package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings holds compose tuning loaded from an optional YAML file.
// Missing file means defaults; a present but malformed file is an error.
type Settings struct {
	Timeline TimelineSettings `yaml:"timeline"`
	Preview  PreviewSettings  `yaml:"preview"`
	Render   RenderSettings   `yaml:"render"`
	Stock    StockSettings    `yaml:"stock"`
	Publish  PublishSettings  `yaml:"publish"`
}

type TimelineSettings struct {
	MinImageDurationSec     float64 `yaml:"min_image_duration_sec"`
	DefaultImageDurationSec float64 `yaml:"default_image_duration_sec"`
}

type PreviewSettings struct {
	FrameIntervalMs int `yaml:"frame_interval_ms"`
	SettleDelayMs   int `yaml:"settle_delay_ms"`
}

type RenderSettings struct {
	PollIntervalSec float64 `yaml:"poll_interval_sec"`
	PollTimeoutSec  float64 `yaml:"poll_timeout_sec"`
}

type StockSettings struct {
	PageSize int `yaml:"page_size"`
}

type PublishSettings struct {
	CategoryID        string `yaml:"category_id"`
	Visibility        string `yaml:"visibility"`
	NotifySubscribers bool   `yaml:"notify_subscribers"`
}

// DefaultSettings returns the built-in compose tuning.
func DefaultSettings() Settings {
	return Settings{
		Timeline: TimelineSettings{
			MinImageDurationSec:     1.0,
			DefaultImageDurationSec: 3.0,
		},
		Preview: PreviewSettings{
			FrameIntervalMs: 16,
			SettleDelayMs:   400,
		},
		Render: RenderSettings{
			PollIntervalSec: 3,
			PollTimeoutSec:  300,
		},
		Stock: StockSettings{
			PageSize: 15,
		},
		Publish: PublishSettings{
			CategoryID: "22",
			Visibility: "private",
		},
	}
}

// LoadSettings reads the YAML settings file at path, overlaying defaults.
// A missing file is not an error.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, fmt.Errorf("read settings file: %w", err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parse settings file: %w", err)
	}

	if settings.Timeline.MinImageDurationSec <= 0 {
		return settings, fmt.Errorf("timeline.min_image_duration_sec must be positive")
	}
	if settings.Timeline.DefaultImageDurationSec < settings.Timeline.MinImageDurationSec {
		return settings, fmt.Errorf("timeline.default_image_duration_sec must be >= min_image_duration_sec")
	}

	return settings, nil
}
