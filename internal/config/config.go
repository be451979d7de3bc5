// Package config handles loading and validating pool and datasource
// configuration from YAML files, matching the option table in spec §6.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Isolation is the YAML-facing transaction isolation enum (spec §6).
type Isolation string

const (
	IsolationNone            Isolation = "none"
	IsolationReadUncommitted Isolation = "read_uncommitted"
	IsolationReadCommitted   Isolation = "read_committed"
	IsolationRepeatableRead  Isolation = "repeatable_read"
	IsolationSerializable    Isolation = "serializable"
	IsolationDefault         Isolation = "default"
)

// Unbounded is the poolMax sentinel meaning "no cap" (spec §6).
const Unbounded = 99999

// pstmtUnset marks a PoolOptions.PstmtMax that came from no yaml key at
// all, so applyDefaults can tell it apart from an explicit pstmt_max: 0.
const pstmtUnset = -1

// PoolOptions holds the pool-allocator knobs from spec §6's table. The
// four duration fields are handled by UnmarshalYAML below: on the wire
// they're plain numbers in the units spec §6 documents (minutes for
// max_age/max_open_time, seconds for waiter_timeout/sampling_period),
// not Go duration strings — yaml.v3 has no built-in time.Duration
// support, so decoding a bare "90" straight into a time.Duration field
// would silently mean 90 nanoseconds.
type PoolOptions struct {
	PoolMin              int
	PoolMax              int
	MaxAge               time.Duration // minutes on the wire
	MaxOpenTime          time.Duration // minutes on the wire
	WaiterTimeout        time.Duration // seconds on the wire
	MaxWaiters           int
	CheckLevel           int
	TestStatement        string
	PstmtMax             int
	SamplingPeriod       time.Duration // seconds on the wire
	TransactionIsolation Isolation
}

// poolOptionsYAML mirrors PoolOptions' wire shape: the four duration
// knobs as plain numbers in the unit spec §6 assigns them, converted to
// time.Duration by UnmarshalYAML.
type poolOptionsYAML struct {
	PoolMin              int       `yaml:"pool_min"`
	PoolMax              int       `yaml:"pool_max"`
	MaxAge               float64   `yaml:"max_age"`
	MaxOpenTime          float64   `yaml:"max_open_time"`
	WaiterTimeout        float64   `yaml:"waiter_timeout"`
	MaxWaiters           int       `yaml:"max_waiters"`
	CheckLevel           int       `yaml:"check_level"`
	TestStatement        string    `yaml:"test_statement"`
	PstmtMax             *int      `yaml:"pstmt_max"`
	SamplingPeriod       float64   `yaml:"sampling_period"`
	TransactionIsolation Isolation `yaml:"transaction_isolation"`
}

// UnmarshalYAML converts the wire's plain-number minutes/seconds into
// time.Duration fields.
func (o *PoolOptions) UnmarshalYAML(unmarshal func(any) error) error {
	var raw poolOptionsYAML
	if err := unmarshal(&raw); err != nil {
		return err
	}

	// pstmtMax=0 is a meaningful value (spec §4.3: disables statement
	// caching), so an absent yaml key has to stay distinguishable from
	// an explicit 0 until applyDefaults runs. pstmtUnset is that
	// sentinel; applyDefaults only substitutes 12 when it sees it.
	pstmtMax := pstmtUnset
	if raw.PstmtMax != nil {
		pstmtMax = *raw.PstmtMax
	}

	*o = PoolOptions{
		PoolMin:              raw.PoolMin,
		PoolMax:              raw.PoolMax,
		MaxAge:               time.Duration(raw.MaxAge * float64(time.Minute)),
		MaxOpenTime:          time.Duration(raw.MaxOpenTime * float64(time.Minute)),
		WaiterTimeout:        time.Duration(raw.WaiterTimeout * float64(time.Second)),
		MaxWaiters:           raw.MaxWaiters,
		CheckLevel:           raw.CheckLevel,
		TestStatement:        raw.TestStatement,
		PstmtMax:             pstmtMax,
		SamplingPeriod:       time.Duration(raw.SamplingPeriod * float64(time.Second)),
		TransactionIsolation: raw.TransactionIsolation,
	}
	return nil
}

// DataSource identifies one target database a pool is bound to —
// the datasource.* fields of the reference format in spec §6.
type DataSource struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClassName string `yaml:"classname"`
}

// Addr returns the host:port address of this datasource.
func (d *DataSource) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// PoolConfig is one bindable pool: a name, the datasource it targets,
// and its allocator options.
type PoolConfig struct {
	DataSource DataSource  `yaml:"datasource"`
	Options    PoolOptions `yaml:"options"`
}

// fileConfig mirrors the on-disk YAML shape: a list of named pools.
type fileConfig struct {
	Pools []PoolConfig `yaml:"pools"`
}

// Load reads and parses a pool configuration file, applying defaults and
// validating mandatory fields the way spec §6's table implies.
func Load(path string) ([]PoolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pool config %s: %w", path, err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing pool config %s: %w", path, err)
	}

	for i := range file.Pools {
		if err := file.Pools[i].validate(); err != nil {
			return nil, fmt.Errorf("pool[%d]: %w", i, err)
		}
		file.Pools[i].applyDefaults()
	}

	return file.Pools, nil
}

func (c *PoolConfig) validate() error {
	if c.DataSource.Name == "" {
		return fmt.Errorf("datasource.name is required")
	}
	if c.DataSource.Host == "" {
		return fmt.Errorf("datasource.host is required")
	}
	if c.DataSource.Port == 0 {
		return fmt.Errorf("datasource.port is required")
	}
	return nil
}

// applyDefaults fills unset optional fields with the spec §6 defaults.
func (c *PoolConfig) applyDefaults() {
	o := &c.Options
	if o.PoolMax == 0 {
		o.PoolMax = Unbounded
	}
	if o.MaxAge == 0 {
		o.MaxAge = 24 * time.Hour
	}
	if o.MaxOpenTime == 0 {
		o.MaxOpenTime = 24 * time.Hour
	}
	if o.WaiterTimeout == 0 {
		o.WaiterTimeout = 10 * time.Second
	}
	if o.MaxWaiters == 0 {
		o.MaxWaiters = 1000
	}
	if o.PstmtMax < 0 {
		o.PstmtMax = 12
	}
	if o.SamplingPeriod == 0 {
		o.SamplingPeriod = 60 * time.Second
	}
	if o.TransactionIsolation == "" {
		o.TransactionIsolation = IsolationDefault
	}
}

// IsUnbounded reports whether max means "no cap" (spec §6: poolMax
// sentinel 99999, or any negative value).
func (o *PoolOptions) IsUnbounded() bool {
	return o.PoolMax == Unbounded || o.PoolMax < 0
}
