package policy

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/huykn/entity-sync/keys"
	"github.com/huykn/entity-sync/types"
)

// Duration is a time.Duration that unmarshals from strings like "15s".
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings or integer milliseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		ms, convErr := strconv.ParseInt(s, 10, 64)
		if convErr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		parsed = time.Duration(ms) * time.Millisecond
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Override replaces parts of one family's policy.
type Override struct {
	Kind            types.Kind    `yaml:"kind"`
	View            keys.ViewKind `yaml:"view"`
	Stale           *Duration     `yaml:"stale,omitempty"`
	RefetchInterval *Duration     `yaml:"refetch_interval,omitempty"`
	Retention       *Duration     `yaml:"retention,omitempty"`
}

// RetryConfig replaces parts of the global read retry policy.
type RetryConfig struct {
	MaxRetries *int      `yaml:"max_retries,omitempty"`
	BaseDelay  *Duration `yaml:"base_delay,omitempty"`
	MaxDelay   *Duration `yaml:"max_delay,omitempty"`
}

// Document is the YAML shape of a policy file.
type Document struct {
	Policies []Override   `yaml:"policies"`
	Retry    *RetryConfig `yaml:"retry,omitempty"`
}

// Parse decodes a policy document.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse policy document: %w", err)
	}
	return doc, nil
}

// Apply merges the document into t.
func (doc Document) Apply(t *Table) error {
	for i, o := range doc.Policies {
		if err := o.validate(); err != nil {
			return fmt.Errorf("policies[%d]: %w", i, err)
		}
		f := keys.Family{Kind: o.Kind, View: o.View}
		p := t.For(f)
		if o.Stale != nil {
			p.Stale = time.Duration(*o.Stale)
		}
		if o.RefetchInterval != nil {
			p.RefetchInterval = time.Duration(*o.RefetchInterval)
		}
		if o.Retention != nil {
			p.Retention = time.Duration(*o.Retention)
		}
		t.Set(f, p)
	}
	if doc.Retry != nil {
		r := t.Fallback().Retry
		if doc.Retry.MaxRetries != nil {
			if *doc.Retry.MaxRetries < 0 {
				return fmt.Errorf("retry.max_retries must not be negative")
			}
			r.MaxRetries = *doc.Retry.MaxRetries
		}
		if doc.Retry.BaseDelay != nil {
			r.BaseDelay = time.Duration(*doc.Retry.BaseDelay)
		}
		if doc.Retry.MaxDelay != nil {
			r.MaxDelay = time.Duration(*doc.Retry.MaxDelay)
		}
		t.SetRetry(r)
	}
	return nil
}

func (o Override) validate() error {
	if o.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	switch o.View {
	case keys.ViewList, keys.ViewDetail, keys.ViewByRelation, keys.ViewAggregate:
	default:
		return fmt.Errorf("unknown view %q", o.View)
	}
	if o.Stale != nil && *o.Stale < 0 {
		return fmt.Errorf("stale must not be negative")
	}
	if o.RefetchInterval != nil && *o.RefetchInterval < 0 {
		return fmt.Errorf("refetch_interval must not be negative")
	}
	return nil
}
