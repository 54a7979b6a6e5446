package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ModelRate is the per-1K-token USD pricing of one model family.
type ModelRate struct {
	Model       string `mapstructure:"model"`
	InputPer1K  string `mapstructure:"input_per_1k"`
	OutputPer1K string `mapstructure:"output_per_1k"`
}

// RateCardFile mirrors the ratecard.yml layout.
type RateCardFile struct {
	Default ModelRate   `mapstructure:"default"`
	Models  []ModelRate `mapstructure:"models"`
}

// Rate is a parsed model rate.
type Rate struct {
	Model       string
	InputPer1K  decimal.Decimal
	OutputPer1K decimal.Decimal
}

// RateCard resolves model names to rates.
type RateCard struct {
	fallback Rate
	// sorted by descending pattern length for longest-prefix matching
	rates []Rate
}

func DefaultRateCardFile() RateCardFile {
	return RateCardFile{
		Default: ModelRate{Model: "default", InputPer1K: "0.001", OutputPer1K: "0.002"},
		Models: []ModelRate{
			{Model: "gemini-2.0-flash", InputPer1K: "0.0001", OutputPer1K: "0.0004"},
			{Model: "gemini-1.5-pro", InputPer1K: "0.00125", OutputPer1K: "0.005"},
			{Model: "gpt-4o", InputPer1K: "0.0025", OutputPer1K: "0.01"},
			{Model: "gpt-4o-mini", InputPer1K: "0.00015", OutputPer1K: "0.0006"},
			{Model: "gpt-3.5-turbo", InputPer1K: "0.0005", OutputPer1K: "0.0015"},
		},
	}
}

// ParseRateCard validates a rate card file and builds the lookup table.
func ParseRateCard(file RateCardFile) (RateCard, error) {
	fallback, err := parseRate(file.Default)
	if err != nil {
		return RateCard{}, fmt.Errorf("default: %w", err)
	}
	if len(file.Models) == 0 {
		return RateCard{}, errors.New("ratecard.models cannot be empty")
	}

	rates := make([]Rate, 0, len(file.Models))
	seen := make(map[string]struct{}, len(file.Models))
	for _, m := range file.Models {
		rate, err := parseRate(m)
		if err != nil {
			return RateCard{}, fmt.Errorf("model %q: %w", m.Model, err)
		}
		if _, ok := seen[rate.Model]; ok {
			return RateCard{}, fmt.Errorf("model %q declared twice", rate.Model)
		}
		seen[rate.Model] = struct{}{}
		rates = append(rates, rate)
	}
	sort.SliceStable(rates, func(i, j int) bool {
		return len(rates[i].Model) > len(rates[j].Model)
	})

	return RateCard{fallback: fallback, rates: rates}, nil
}

func parseRate(m ModelRate) (Rate, error) {
	model := strings.ToLower(strings.TrimSpace(m.Model))
	if model == "" {
		return Rate{}, errors.New("model is required")
	}
	in, err := decimal.NewFromString(strings.TrimSpace(m.InputPer1K))
	if err != nil {
		return Rate{}, fmt.Errorf("input_per_1k: %w", err)
	}
	out, err := decimal.NewFromString(strings.TrimSpace(m.OutputPer1K))
	if err != nil {
		return Rate{}, fmt.Errorf("output_per_1k: %w", err)
	}
	if in.IsNegative() || out.IsNegative() {
		return Rate{}, errors.New("rates must not be negative")
	}
	return Rate{Model: model, InputPer1K: in, OutputPer1K: out}, nil
}

// Resolve returns the rate of the longest model pattern prefixing model,
// or the default rate.
func (c RateCard) Resolve(model string) Rate {
	model = strings.ToLower(strings.TrimSpace(model))
	for _, rate := range c.rates {
		if strings.HasPrefix(model, rate.Model) {
			return rate
		}
	}
	return c.fallback
}

// RateCardHolder keeps the current rate card and swaps it on file change.
type RateCardHolder struct {
	current atomic.Value // holds RateCard
}

// NewStaticRateCardHolder wraps a fixed rate card.
func NewStaticRateCardHolder(card RateCard) *RateCardHolder {
	holder := &RateCardHolder{}
	holder.current.Store(card)
	return holder
}

// NewRateCardHolder loads ratecard.yml from the standard search paths and
// watches it for changes. Defaults apply when no file exists.
func NewRateCardHolder(log *zap.Logger) (*RateCardHolder, error) {
	v := viper.New()

	v.SetConfigName("ratecard")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/leadcore/config")
	v.AddConfigPath("/etc/leadcore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEADCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return newRateCardHolder(v, log)
}

// LoadRateCardFile loads and watches an explicit rate card path.
func LoadRateCardFile(path string, log *zap.Logger) (*RateCardHolder, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return newRateCardHolder(v, log)
}

func newRateCardHolder(v *viper.Viper, log *zap.Logger) (*RateCardHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.ratecard")

	file := DefaultRateCardFile()
	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
		log.Info("ratecard file not found, using defaults")
	} else if err := v.UnmarshalKey("ratecard", &file); err != nil {
		return nil, err
	}

	card, err := ParseRateCard(file)
	if err != nil {
		return nil, err
	}

	holder := NewStaticRateCardHolder(card)
	if !watch {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RateCardFile
		if err := v.UnmarshalKey("ratecard", &updated); err != nil {
			log.Warn("ratecard reload failed", zap.Error(err))
			return
		}
		parsed, err := ParseRateCard(updated)
		if err != nil {
			log.Warn("invalid ratecard ignored", zap.Error(err))
			return
		}
		holder.current.Store(parsed)
		log.Info("ratecard reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *RateCardHolder) Get() RateCard {
	return h.current.Load().(RateCard)
}
