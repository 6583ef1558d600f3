package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudflare/cfssl/log"
	"github.com/confirmledger/chain"
	"github.com/confirmledger/config"
	"github.com/confirmledger/confirm"
	"github.com/confirmledger/ledger"
	"github.com/confirmledger/miner"
	"github.com/confirmledger/net"
	"github.com/confirmledger/redis"
	"github.com/confirmledger/stake"
	"github.com/confirmledger/storage"
	"github.com/confirmledger/util"
	"github.com/confirmledger/wallet"
	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"
)

var cliApp = cli.NewApp()

var gitTag = "dev"

func init() {
	cliApp.Name = "confirmledger"
	cliApp.Usage = "single-node ledger with recipient-confirmed transfers"
	cliApp.Version = gitTag
	cliApp.Commands = cli.Commands{
		{
			Name:  "serve",
			Usage: "Run the ledger and its HTTP API",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:   "config, c",
					EnvVar: "LEDGER_CONFIG",
					Usage:  "path to the toml configuration file",
				},
			},
			Action: serve,
		},
		{
			Name:   "keygen",
			Usage:  "Generate a key pair and print its address",
			Action: keygen,
		},
		{
			Name:  "address",
			Usage: "Address utilities",
			Subcommands: cli.Commands{
				{
					Name:      "validate",
					Usage:     "Check an address checksum",
					ArgsUsage: "ADDRESS",
					Action:    validateAddress,
				},
			},
		},
	}
}

func keygen(c *cli.Context) error {
	id, err := wallet.GenerateKeyPair()
	if err != nil {
		return err
	}
	fmt.Println("address:    ", id.Address)
	fmt.Println("public key: ", id.PublicKeyHex())
	fmt.Println("private key:", id.PrivateKeyHex())
	return nil
}

func validateAddress(c *cli.Context) error {
	addr := c.Args().First()
	if addr == "" {
		return cli.NewExitError("no address given", 2)
	}
	if !wallet.ValidateAddress(addr) {
		return cli.NewExitError(addr+" is not a valid address", 1)
	}
	fmt.Println(addr, "is valid")
	return nil
}

// backend opens the store and the key registry that goes with it.
func backend(cfg *config.Config) (storage.Store, wallet.KeyStore, error) {
	if cfg.Storage.Path == "" {
		log.Warning("no storage path configured, chain is kept in memory")
		return storage.NewMemoryStore(), wallet.NewMemoryRegistry(), nil
	}
	if util.IsExist(cfg.Storage.Path) {
		log.Info("opening chain at ", cfg.Storage.Path)
	} else {
		log.Info("creating chain at ", cfg.Storage.Path)
	}
	s, err := storage.OpenLevelStore(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}

func balanceCache(ctx context.Context, cfg *config.Config) (ledger.Cache, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		rc := redis.NewBalanceCache(redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.RedisTTL.Duration,
		})
		if err := rc.Ping(ctx); err != nil {
			log.Warningf("redis %s unreachable, balances will be read from the store: %v", cfg.Cache.RedisAddr, err)
		}
		return rc, func() { rc.Close() }, nil
	case "none":
		return ledger.NopCache{}, func() {}, nil
	default:
		lc, err := ledger.NewLRUCache(cfg.Cache.LRUSize)
		if err != nil {
			return nil, nil, err
		}
		return lc, func() {}, nil
	}
}

func serve(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	log.Level = cfg.LogLevel()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, keys, err := backend(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	cache, closeCache, err := balanceCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	m := miner.New()
	m.Start()
	defer m.Stop()

	bc, err := chain.New(chain.Options{
		Store:           store,
		Cache:           cache,
		Sealer:          m,
		Difficulty:      cfg.Ledger.Difficulty,
		AutoAdjust:      cfg.Ledger.AutoAdjust,
		TargetBlockTime: cfg.Ledger.TargetBlockTime.Duration,
	})
	if err != nil {
		return errors.Wrap(err, "open chain")
	}
	m.Follow(bc)

	wf := confirm.New(confirm.Options{
		Chain:         bc,
		Registry:      keys,
		Window:        cfg.Confirm.Window.Duration,
		Retention:     cfg.Confirm.Retention.Duration,
		ConfirmReward: cfg.Ledger.ConfirmRewardAmount(),
		MiningReward:  cfg.Ledger.MiningRewardAmount(),
	})
	sweeper := confirm.NewSweeper(wf, cfg.Confirm.SweepInterval.Duration)
	go sweeper.Run(ctx)

	srv := net.NewServer(net.Options{
		Chain:        bc,
		Workflow:     wf,
		Keys:         keys,
		Stakes:       stake.NewSelector(cfg.Ledger.MinimumStakeAmount()),
		DefaultFee:   cfg.Ledger.DefaultFeeAmount(),
		MiningReward: cfg.Ledger.MiningRewardAmount(),
	})
	err = srv.HttpListen(ctx, cfg.HTTP.Addr)
	stop()
	<-sweeper.Done()
	return err
}

func main() {
	if err := cliApp.Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
