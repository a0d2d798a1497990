// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

const DefaultSnapshotURL = "https://github.com/captn3m0/historical-mf-data/releases/latest/download/funds.db.zst"

// Config aggregates configuration for the application.
type Config struct {
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Server   ServerConfig   `mapstructure:"server"`
	Query    QueryConfig    `mapstructure:"query"`
}

type SnapshotConfig struct {
	URL             string        `mapstructure:"url"`
	CacheDir        string        `mapstructure:"cache_dir"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	MaxRedirects    int           `mapstructure:"max_redirects"`
	MaxDecodedBytes int64         `mapstructure:"max_decoded_bytes"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type QueryConfig struct {
	// ResultCacheTTL of zero disables result caching.
	ResultCacheTTL time.Duration `mapstructure:"result_cache_ttl"`
	MaxCodes       int           `mapstructure:"max_codes"`
}

func DefaultConfig() *Config {
	return &Config{
		Snapshot: SnapshotConfig{
			URL:             DefaultSnapshotURL,
			CacheDir:        filepath.Join(os.TempDir(), "fundsnap"),
			FetchTimeout:    10 * time.Minute,
			MaxRedirects:    10,
			MaxDecodedBytes: 4 << 30,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Query: QueryConfig{
			ResultCacheTTL: 5 * time.Minute,
			MaxCodes:       500,
		},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "FUNDSNAP" and the dot character
// in keys is replaced by an underscore. For example, "snapshot.cache_dir"
// becomes "FUNDSNAP_SNAPSHOT_CACHE_DIR".
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("FUNDSNAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.Snapshot.URL == "" {
		errs = multierror.Append(errs, errors.New("snapshot.url must be set"))
	} else if u, err := url.Parse(c.Snapshot.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = multierror.Append(errs, fmt.Errorf("snapshot.url %q must be an absolute http(s) URL", c.Snapshot.URL))
	}
	if c.Snapshot.CacheDir == "" {
		errs = multierror.Append(errs, errors.New("snapshot.cache_dir must be set"))
	}
	if c.Snapshot.FetchTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("snapshot.fetch_timeout must be positive, got %s", c.Snapshot.FetchTimeout))
	}
	if c.Snapshot.MaxRedirects < 0 {
		errs = multierror.Append(errs, fmt.Errorf("snapshot.max_redirects must not be negative, got %d", c.Snapshot.MaxRedirects))
	}
	if c.Snapshot.MaxDecodedBytes <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("snapshot.max_decoded_bytes must be positive, got %d", c.Snapshot.MaxDecodedBytes))
	}
	if c.Server.Addr == "" {
		errs = multierror.Append(errs, errors.New("server.addr must be set"))
	}
	if c.Query.ResultCacheTTL < 0 {
		errs = multierror.Append(errs, fmt.Errorf("query.result_cache_ttl must not be negative, got %s", c.Query.ResultCacheTTL))
	}
	if c.Query.MaxCodes <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("query.max_codes must be positive, got %d", c.Query.MaxCodes))
	}

	return errs.ErrorOrNil()
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
