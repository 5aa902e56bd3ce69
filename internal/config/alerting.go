package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Thresholds are the alerting limits evaluated by the monitoring poller.
type Thresholds struct {
	ResponseTimeMs   float64 `mapstructure:"responseTimeMs"`
	ErrorRatePercent float64 `mapstructure:"errorRatePercent"`
	CPUPercent       float64 `mapstructure:"cpuPercent"`
	MemoryPercent    float64 `mapstructure:"memoryPercent"`
	DiskPercent      float64 `mapstructure:"diskPercent"`
	UnresolvedErrors int64   `mapstructure:"unresolvedErrors"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ResponseTimeMs:   2000,
		ErrorRatePercent: 5,
		CPUPercent:       80,
		MemoryPercent:    85,
		DiskPercent:      90,
		UnresolvedErrors: 10,
	}
}

type ThresholdsHolder struct {
	current atomic.Value // holds Thresholds
}

// NewStaticThresholds returns a holder that never reloads.
func NewStaticThresholds(t Thresholds) *ThresholdsHolder {
	holder := &ThresholdsHolder{}
	holder.current.Store(t)
	return holder
}

// NewThresholdsHolder reads the "alerting" section of CONFIG_FILE when present and
// reloads it whenever the file changes.
func NewThresholdsHolder(cfg Config, log *zap.Logger) (*ThresholdsHolder, error) {
	defaults := DefaultThresholds()
	holder := NewStaticThresholds(defaults)
	if cfg.ConfigFile == "" {
		return holder, nil
	}

	v := viper.New()
	v.SetConfigFile(cfg.ConfigFile)
	v.SetEnvPrefix("SMAJOBB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	loaded, err := readThresholds(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(loaded)

	log = log.Named("config.alerting")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readThresholds(v)
		if err != nil {
			log.Warn("invalid alert thresholds ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("alert thresholds reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ThresholdsHolder) Get() Thresholds {
	return h.current.Load().(Thresholds)
}

func readThresholds(v *viper.Viper) (Thresholds, error) {
	t := DefaultThresholds()
	if err := v.UnmarshalKey("alerting", &t); err != nil {
		return Thresholds{}, err
	}
	if err := validateThresholds(t); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}

func validateThresholds(t Thresholds) error {
	if t.ResponseTimeMs <= 0 {
		return errors.New("alerting.responseTimeMs must be positive")
	}
	for _, pct := range []float64{t.ErrorRatePercent, t.CPUPercent, t.MemoryPercent, t.DiskPercent} {
		if pct <= 0 || pct > 100 {
			return errors.New("alerting percentages must be within (0, 100]")
		}
	}
	if t.UnresolvedErrors < 0 {
		return errors.New("alerting.unresolvedErrors cannot be negative")
	}
	return nil
}
