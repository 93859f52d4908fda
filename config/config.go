package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xcofdk/xcofdk-py-sub004/core"
)

// EnvPrefix is prepended to every key when read from the environment,
// e.g. XCORE_QUEUE_CAPACITY.
const EnvPrefix = "XCORE"

// Config holds typed configuration for an xcore runtime and its demo workloads.
type Config struct {
	LogLevel    string
	MetricsAddr string

	DieMode          bool
	DieExceptionMode bool
	ExceptionMode    bool
	ReleaseMode      bool

	TransitionHistory int

	QueueName     string
	QueuePolicy   string
	QueueCapacity int
	QueueOrder    string

	QuiesceRetries      int
	QuiesceInitialDelay time.Duration
	QuiesceMaxDelay     time.Duration
	QuiesceBackoff      float64

	Producers int
	Consumers int
	Items     int
	Workers   int
	Duration  time.Duration
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	budget := core.DefaultQuiesceBudget()

	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")

	v.SetDefault("die_mode", false)
	v.SetDefault("die_exception_mode", false)
	v.SetDefault("exception_mode", false)
	v.SetDefault("release_mode", true)

	v.SetDefault("transition_history", 32)

	v.SetDefault("queue_name", "soak")
	v.SetDefault("queue_policy", core.PolicyBlockOnFull.String())
	v.SetDefault("queue_capacity", 64)
	v.SetDefault("queue_order", core.OrderFIFO.String())

	v.SetDefault("quiesce_retries", budget.MaxRetries)
	v.SetDefault("quiesce_initial_delay", budget.InitialDelay)
	v.SetDefault("quiesce_max_delay", budget.MaxDelay)
	v.SetDefault("quiesce_backoff", budget.BackoffRatio)

	v.SetDefault("producers", 4)
	v.SetDefault("consumers", 2)
	v.SetDefault("items", 10000)
	v.SetDefault("workers", 3)
	v.SetDefault("duration", 2*time.Second)
}

// BindEnv makes every key readable from XCORE_<KEY>.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:    v.GetString("log_level"),
		MetricsAddr: v.GetString("metrics_addr"),

		DieMode:          v.GetBool("die_mode"),
		DieExceptionMode: v.GetBool("die_exception_mode"),
		ExceptionMode:    v.GetBool("exception_mode"),
		ReleaseMode:      v.GetBool("release_mode"),

		TransitionHistory: v.GetInt("transition_history"),

		QueueName:     v.GetString("queue_name"),
		QueuePolicy:   v.GetString("queue_policy"),
		QueueCapacity: v.GetInt("queue_capacity"),
		QueueOrder:    v.GetString("queue_order"),

		QuiesceRetries:      v.GetInt("quiesce_retries"),
		QuiesceInitialDelay: v.GetDuration("quiesce_initial_delay"),
		QuiesceMaxDelay:     v.GetDuration("quiesce_max_delay"),
		QuiesceBackoff:      v.GetFloat64("quiesce_backoff"),

		Producers: v.GetInt("producers"),
		Consumers: v.GetInt("consumers"),
		Items:     v.GetInt("items"),
		Workers:   v.GetInt("workers"),
		Duration:  v.GetDuration("duration"),
	}
}

// Validate checks the values that cannot be repaired by a default.
func (c Config) Validate() error {
	if _, err := ParseQueuePolicy(c.QueuePolicy); err != nil {
		return err
	}
	if _, err := ParseQueueOrder(c.QueueOrder); err != nil {
		return err
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue_capacity must not be negative, got %d", c.QueueCapacity)
	}
	if c.QuiesceRetries < 0 {
		return fmt.Errorf("quiesce_retries must not be negative, got %d", c.QuiesceRetries)
	}
	if c.QuiesceBackoff < 1 {
		return fmt.Errorf("quiesce_backoff must be >= 1, got %v", c.QuiesceBackoff)
	}
	return nil
}

// Modes returns the mode settings the runtime starts with.
func (c Config) Modes() core.ModeSettings {
	return core.ModeSettings{
		DieMode:          c.DieMode,
		DieExceptionMode: c.DieExceptionMode,
		ExceptionMode:    c.ExceptionMode,
		ReleaseMode:      c.ReleaseMode,
	}
}

// QuiesceBudget returns the configured queue teardown budget.
func (c Config) QuiesceBudget() core.QuiesceBudget {
	return core.QuiesceBudget{
		MaxRetries:   c.QuiesceRetries,
		InitialDelay: c.QuiesceInitialDelay,
		MaxDelay:     c.QuiesceMaxDelay,
		BackoffRatio: c.QuiesceBackoff,
	}
}

// RuntimeConfig converts c into a core.RuntimeConfig. A nil metrics falls back
// to the runtime default.
func (c Config) RuntimeConfig(metrics core.Metrics) *core.RuntimeConfig {
	cfg := core.DefaultRuntimeConfig()
	logger := core.NewDefaultLogger(c.LogLevel)
	cfg.Logger = logger
	cfg.PanicHandler = &core.LoggingPanicHandler{Logger: logger}
	if metrics != nil {
		cfg.Metrics = metrics
	}
	cfg.Modes = c.Modes()
	if c.TransitionHistory > 0 {
		cfg.TransitionHistory = c.TransitionHistory
	}
	cfg.QueueBudget = c.QuiesceBudget()
	return cfg
}

// QueueOptions converts the queue keys into core.QueueOptions.
func (c Config) QueueOptions() (core.QueueOptions, error) {
	policy, err := ParseQueuePolicy(c.QueuePolicy)
	if err != nil {
		return core.QueueOptions{}, err
	}
	order, err := ParseQueueOrder(c.QueueOrder)
	if err != nil {
		return core.QueueOptions{}, err
	}
	opts := core.QueueOptions{
		Name:   c.QueueName,
		Policy: policy,
		Order:  order,
		Budget: c.QuiesceBudget(),
	}
	if policy != core.PolicyUnbounded {
		opts.Capacity = c.QueueCapacity
	}
	return opts, nil
}

// ParseQueuePolicy maps a policy name to its core value. The empty string is unbounded.
func ParseQueuePolicy(s string) (core.QueuePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unbounded":
		return core.PolicyUnbounded, nil
	case "exception-on-full", "exception", "raise":
		return core.PolicyExceptionOnFull, nil
	case "block-on-full", "block":
		return core.PolicyBlockOnFull, nil
	default:
		return 0, fmt.Errorf("unknown queue policy %q (want unbounded | exception-on-full | block-on-full)", s)
	}
}

// ParseQueueOrder maps an order name to its core value. The empty string is FIFO.
func ParseQueueOrder(s string) (core.QueueOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fifo":
		return core.OrderFIFO, nil
	case "lifo":
		return core.OrderLIFO, nil
	default:
		return 0, fmt.Errorf("unknown queue order %q (want fifo | lifo)", s)
	}
}
