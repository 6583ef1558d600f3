package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cloudflare/cfssl/log"
	"github.com/confirmledger/commonconst"
	"github.com/confirmledger/meta"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Duration reads "10s" style values from toml.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "duration %q", text)
	}
	d.Duration = v
	return nil
}

type Ledger struct {
	Difficulty      int      `toml:"difficulty"`
	AutoAdjust      bool     `toml:"auto_adjust"`
	TargetBlockTime Duration `toml:"target_block_time"`
	MiningReward    string   `toml:"mining_reward"`
	ConfirmReward   string   `toml:"confirm_reward"`
	DefaultFee      string   `toml:"default_fee"`
	MinimumStake    string   `toml:"minimum_stake"`
}

type Confirm struct {
	Window        Duration `toml:"window"`
	SweepInterval Duration `toml:"sweep_interval"`
	Retention     Duration `toml:"retention"`
}

type Storage struct {
	//empty keeps the chain in memory
	Path string `toml:"path"`
}

type Cache struct {
	//lru or redis
	Backend       string   `toml:"backend"`
	LRUSize       int      `toml:"lru_size"`
	RedisAddr     string   `toml:"redis_addr"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db"`
	RedisTTL      Duration `toml:"redis_ttl"`
}

type HTTP struct {
	Addr string `toml:"addr"`
}

type Log struct {
	Level string `toml:"level"`
}

type Config struct {
	Ledger  Ledger  `toml:"ledger"`
	Confirm Confirm `toml:"confirm"`
	Storage Storage `toml:"storage"`
	Cache   Cache   `toml:"cache"`
	HTTP    HTTP    `toml:"http"`
	Log     Log     `toml:"log"`
}

func Default() *Config {
	return &Config{
		Ledger: Ledger{
			Difficulty:      commonconst.Difficulty,
			AutoAdjust:      commonconst.AutoAdjustDifficulty,
			TargetBlockTime: Duration{commonconst.TargetBlockTime},
			MiningReward:    commonconst.MiningReward,
			ConfirmReward:   commonconst.ConfirmReward,
			DefaultFee:      commonconst.DefaultFee,
			MinimumStake:    commonconst.MinimumStake,
		},
		Confirm: Confirm{
			Window:        Duration{commonconst.NotificationWindow},
			SweepInterval: Duration{commonconst.SweepInterval},
			Retention:     Duration{commonconst.NotificationRetention},
		},
		Cache: Cache{Backend: "lru", LRUSize: commonconst.LRUCacheSize},
		HTTP:  HTTP{Addr: commonconst.HttpAddr},
		Log:   Log{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	for _, k := range md.Undecoded() {
		log.Warningf("config %s: unknown key %s", path, k)
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Ledger.Difficulty < commonconst.MinDifficulty || c.Ledger.Difficulty > commonconst.MaxDifficulty {
		return errors.Errorf("ledger.difficulty %d outside [%d,%d]", c.Ledger.Difficulty, commonconst.MinDifficulty, commonconst.MaxDifficulty)
	}
	for name, v := range map[string]string{
		"ledger.mining_reward":  c.Ledger.MiningReward,
		"ledger.confirm_reward": c.Ledger.ConfirmReward,
		"ledger.default_fee":    c.Ledger.DefaultFee,
		"ledger.minimum_stake":  c.Ledger.MinimumStake,
	} {
		d, err := meta.ParseAmount(v)
		if err != nil {
			return errors.Wrap(err, name)
		}
		if d.IsNegative() {
			return errors.Errorf("%s must not be negative", name)
		}
	}
	if c.Confirm.Window.Duration <= 0 {
		return errors.New("confirm.window must be positive")
	}
	if c.Confirm.Retention.Duration < c.Confirm.Window.Duration {
		return errors.New("confirm.retention must not be shorter than confirm.window")
	}
	switch c.Cache.Backend {
	case "lru", "redis", "none":
	default:
		return errors.Errorf("cache.backend %q must be lru, redis or none", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return errors.New("cache.redis_addr is required for the redis backend")
	}
	return nil
}

//callers run Validate first

func (l Ledger) MiningRewardAmount() decimal.Decimal  { return meta.MustAmount(l.MiningReward) }
func (l Ledger) ConfirmRewardAmount() decimal.Decimal { return meta.MustAmount(l.ConfirmReward) }
func (l Ledger) DefaultFeeAmount() decimal.Decimal    { return meta.MustAmount(l.DefaultFee) }
func (l Ledger) MinimumStakeAmount() decimal.Decimal  { return meta.MustAmount(l.MinimumStake) }

// LogLevel maps the configured name onto cfssl's levels.
func (c *Config) LogLevel() int {
	switch c.Log.Level {
	case "debug":
		return log.LevelDebug
	case "warning", "warn":
		return log.LevelWarning
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}
