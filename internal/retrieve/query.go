package retrieve

import (
	"errors"
	"slices"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/plotweave/internal/apperr"
)

// Config tunes scoring.
type Config struct {
	// HopDecay multiplies confidence once per hop; in (0,1).
	HopDecay float64 `yaml:"hop_decay" env:"HOP_DECAY"`
	// TextConfidence is assigned to text search hits; in (0,1).
	TextConfidence float64 `yaml:"text_confidence" env:"TEXT_CONFIDENCE"`
	DefaultMaxHops int     `yaml:"default_max_hops" env:"DEFAULT_MAX_HOPS"`
	DefaultLimit   int     `yaml:"default_limit" env:"DEFAULT_LIMIT"`
}

// DefaultConfig returns the documented constants.
func DefaultConfig() Config {
	return Config{HopDecay: 0.5, TextConfidence: 0.8, DefaultMaxHops: 2, DefaultLimit: 20}
}

// Validate validates the retrieval configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.HopDecay, validation.Required, validation.Min(0.0).Exclusive(), validation.Max(1.0).Exclusive()),
		validation.Field(&c.TextConfidence, validation.Required, validation.Min(0.0).Exclusive(), validation.Max(1.0).Exclusive()),
		validation.Field(&c.DefaultMaxHops, validation.Min(0)),
		validation.Field(&c.DefaultLimit, validation.Required, validation.Min(1)),
	)
}

// Query is one retrieval request.
type Query struct {
	Text    string `json:"query"`
	MaxHops int    `json:"max_hops"`
	Limit   int    `json:"limit"`
}

// Validate rejects negative hop counts and non-positive limits with an
// apperr.MalformedQueryError naming the parameter.
func (q Query) Validate() error {
	err := validation.ValidateStruct(&q,
		validation.Field(&q.MaxHops, validation.Min(0)),
		validation.Field(&q.Limit, validation.Required.Error("must be positive"), validation.Min(1).Error("must be positive")),
	)
	return malformed(err)
}

// malformed converts ozzo field errors into a MalformedQueryError for the
// first offending parameter in name order.
func malformed(err error) error {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return err
	}
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if errs[k] != nil {
			return &apperr.MalformedQueryError{Param: k, Reason: errs[k].Error()}
		}
	}
	return nil
}
