package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lloydcotten/common-mq/internal/provider"
)

type LookupFunc func(key string) (string, bool)

const (
	DefaultHealthSchedule = "@every 30s"
	DefaultQueueBuffer    = 64
)

// Config configures the bridge binary.
type Config struct {
	AppHost     string
	AppPort     string
	PostgresURI string

	// QueueURL is a connection string, see ParseURL.
	QueueURL           string
	ExchangeName       string
	BackendConfig      string
	DeleteAfterReceive bool
	DelayBetweenPolls  time.Duration
	QueueBuffer        int

	// SQS queue settings. VisibilityTimeout and WaitTimeSeconds are nil
	// unless set, so an explicit 0 is kept apart from the SQS default.
	MaxReceiveCount   int32
	VisibilityTimeout *int32
	WaitTimeSeconds   *int32
	Attributes        map[string]string

	Consume        bool
	AutoAck        bool
	HealthSchedule string
	Verbose        bool
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.AppHost, c.AppPort)
}

// QueueOptions parses QueueURL and applies the remaining queue settings.
func (c Config) QueueOptions() (provider.Options, error) {
	opts, err := ParseURL(c.QueueURL)
	if err != nil {
		return provider.Options{}, err
	}
	opts.ExchangeName = c.ExchangeName
	opts.DeleteAfterReceive = c.DeleteAfterReceive
	opts.DelayBetweenPolls = c.DelayBetweenPolls
	opts.MaxReceiveCount = c.MaxReceiveCount
	opts.VisibilityTimeout = c.VisibilityTimeout
	opts.WaitTimeSeconds = c.WaitTimeSeconds
	opts.Attributes = c.Attributes
	if c.BackendConfig != "" {
		opts.BackendConfig = c.BackendConfig
	}
	return opts, nil
}

func LoadFromEnv(lookup LookupFunc) (Config, error) {
	cfg := Config{
		QueueBuffer:    DefaultQueueBuffer,
		HealthSchedule: DefaultHealthSchedule,
	}

	var ok bool
	if cfg.AppHost, ok = lookup("APP_HOST"); !ok || cfg.AppHost == "" {
		return Config{}, errors.New("APP_HOST is required")
	}
	if cfg.AppPort, ok = lookup("APP_PORT"); !ok || cfg.AppPort == "" {
		return Config{}, errors.New("APP_PORT is required")
	}
	if cfg.QueueURL, ok = lookup("MQ_URL"); !ok || cfg.QueueURL == "" {
		return Config{}, errors.New("MQ_URL is required")
	}

	// Optional; validated by the provider the URL selects
	cfg.PostgresURI, _ = lookup("POSTGRES_URI")
	cfg.ExchangeName, _ = lookup("MQ_EXCHANGE")
	cfg.BackendConfig, _ = lookup("MQ_BACKEND_CONFIG")
	if v, ok := lookup("MQ_HEALTH_SCHEDULE"); ok && v != "" {
		cfg.HealthSchedule = v
	}

	var err error
	if cfg.DeleteAfterReceive, err = lookupBool(lookup, "MQ_DELETE_AFTER_RECEIVE"); err != nil {
		return Config{}, err
	}
	if cfg.Consume, err = lookupBool(lookup, "MQ_CONSUME"); err != nil {
		return Config{}, err
	}
	if cfg.AutoAck, err = lookupBool(lookup, "MQ_AUTO_ACK"); err != nil {
		return Config{}, err
	}
	if cfg.Verbose, err = lookupBool(lookup, "VERBOSE"); err != nil {
		return Config{}, err
	}
	if v, ok := lookup("MQ_DELAY_BETWEEN_POLLS"); ok && v != "" {
		if cfg.DelayBetweenPolls, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("MQ_DELAY_BETWEEN_POLLS: %w", err)
		}
	}
	if v, ok := lookup("MQ_BUFFER"); ok && v != "" {
		if cfg.QueueBuffer, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("MQ_BUFFER: %w", err)
		}
	}
	if n, err := lookupInt32(lookup, "MQ_MAX_RECEIVE_COUNT"); err != nil {
		return Config{}, err
	} else if n != nil {
		cfg.MaxReceiveCount = *n
	}
	if cfg.VisibilityTimeout, err = lookupInt32(lookup, "MQ_VISIBILITY_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.WaitTimeSeconds, err = lookupInt32(lookup, "MQ_WAIT_TIME_SECONDS"); err != nil {
		return Config{}, err
	}
	if v, ok := lookup("MQ_ATTRIBUTES"); ok && v != "" {
		if cfg.Attributes, err = ParseAttributes(v); err != nil {
			return Config{}, fmt.Errorf("MQ_ATTRIBUTES: %w", err)
		}
	}
	return cfg, nil
}

// ParseAttributes parses a comma separated list of name=value pairs, e.g.
// "DelaySeconds=5,MessageRetentionPeriod=86400".
func ParseAttributes(raw string) (map[string]string, error) {
	attrs := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid attribute %q, want name=value", pair)
		}
		attrs[name] = strings.TrimSpace(value)
	}
	return attrs, nil
}

// lookupInt32 returns nil when key is unset or empty.
func lookupInt32(lookup LookupFunc, key string) (*int32, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	n32 := int32(n)
	return &n32, nil
}

func lookupBool(lookup LookupFunc, key string) (bool, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
