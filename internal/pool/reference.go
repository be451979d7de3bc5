package pool

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/tidelock/xapool/internal/config"
)

// ToReference flattens a PoolConfig into the string-keyed map spec §6
// describes ("a Reference — a flat, serializable property bag usable by
// a naming/directory service to reconstruct the pool later"). Durations
// are expressed in the same units the original field documents. The
// datasource fields use bare keys ("name", "url", "classname",
// "username", "password", "isolationlevel") without a "datasource."
// prefix.
func ToReference(cfg config.PoolConfig) map[string]string {
	ds := cfg.DataSource
	o := cfg.Options

	return map[string]string{
		"name":             ds.Name,
		"url":              fmt.Sprintf("%s:%d/%s", ds.Host, ds.Port, ds.Database),
		"classname":        ds.ClassName,
		"username":         ds.Username,
		"password":         ds.Password,
		"isolationlevel":   string(o.TransactionIsolation),
		"connchecklevel":   strconv.Itoa(o.CheckLevel),
		"connmaxage":       strconv.FormatFloat(o.MaxAge.Minutes(), 'f', -1, 64),
		"maxopentime":      strconv.FormatFloat(o.MaxOpenTime.Minutes(), 'f', -1, 64),
		"connteststmt":     o.TestStatement,
		"pstmtmax":         strconv.Itoa(o.PstmtMax),
		"minconpool":       strconv.Itoa(o.PoolMin),
		"maxconpool":       strconv.Itoa(o.PoolMax),
		"maxwaittime":      strconv.FormatFloat(o.WaiterTimeout.Seconds(), 'f', -1, 64),
		"maxwaiters":       strconv.Itoa(o.MaxWaiters),
		"samplingperiod":   strconv.FormatFloat(o.SamplingPeriod.Seconds(), 'f', -1, 64),
	}
}

// FromReference reconstructs a PoolConfig from a Reference produced by
// ToReference — the inverse direction a naming/directory service uses
// when handing a previously bound pool's description back to a factory.
func FromReference(ref map[string]string) (config.PoolConfig, error) {
	var cfg config.PoolConfig

	cfg.DataSource.Name = ref["name"]
	cfg.DataSource.ClassName = ref["classname"]
	cfg.DataSource.Username = ref["username"]
	cfg.DataSource.Password = ref["password"]

	if url, ok := ref["url"]; ok && url != "" {
		host, port, database, err := parseDataSourceURL(url)
		if err != nil {
			return cfg, fmt.Errorf("reference field url: %w", err)
		}
		cfg.DataSource.Host = host
		cfg.DataSource.Port = port
		cfg.DataSource.Database = database
	}

	cfg.Options.TransactionIsolation = config.Isolation(ref["isolationlevel"])
	cfg.Options.TestStatement = ref["connteststmt"]

	intField := func(key string, dst *int) error {
		v, ok := ref[key]
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("reference field %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	minutesField := func(key string, dst *time.Duration) error {
		v, ok := ref[key]
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("reference field %s: %w", key, err)
		}
		*dst = time.Duration(f * float64(time.Minute))
		return nil
	}
	secondsField := func(key string, dst *time.Duration) error {
		v, ok := ref[key]
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("reference field %s: %w", key, err)
		}
		*dst = time.Duration(f * float64(time.Second))
		return nil
	}

	if err := intField("connchecklevel", &cfg.Options.CheckLevel); err != nil {
		return cfg, err
	}
	if err := minutesField("connmaxage", &cfg.Options.MaxAge); err != nil {
		return cfg, err
	}
	if err := minutesField("maxopentime", &cfg.Options.MaxOpenTime); err != nil {
		return cfg, err
	}
	if err := intField("pstmtmax", &cfg.Options.PstmtMax); err != nil {
		return cfg, err
	}
	if err := intField("minconpool", &cfg.Options.PoolMin); err != nil {
		return cfg, err
	}
	if err := intField("maxconpool", &cfg.Options.PoolMax); err != nil {
		return cfg, err
	}
	if err := secondsField("maxwaittime", &cfg.Options.WaiterTimeout); err != nil {
		return cfg, err
	}
	if err := intField("maxwaiters", &cfg.Options.MaxWaiters); err != nil {
		return cfg, err
	}
	if err := secondsField("samplingperiod", &cfg.Options.SamplingPeriod); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// parseDataSourceURL is the inverse of ToReference's "host:port/database"
// url field, so FromReference round-trips the datasource the reference
// names instead of leaving it zero-valued.
func parseDataSourceURL(url string) (host string, port int, database string, err error) {
	hostport, database, ok := strings.Cut(url, "/")
	if !ok {
		return "", 0, "", fmt.Errorf("malformed datasource url %q: missing /database suffix", url)
	}
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, "", fmt.Errorf("malformed datasource url %q: %w", url, err)
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, "", fmt.Errorf("malformed datasource url %q: non-numeric port: %w", url, err)
	}
	return host, port, database, nil
}
