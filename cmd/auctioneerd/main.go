package main

import (
	"context"
	"fmt"
	_ "net/http/pprof"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/bidder"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/collector"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/filler"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/service"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/worker"
	"github.com/textileio/auctioneer-bot/common"
	"github.com/textileio/auctioneer-bot/ledger/rpcgateway"
	"github.com/textileio/auctioneer-bot/logging"
	"github.com/textileio/auctioneer-bot/msgbroker"
	"github.com/textileio/auctioneer-bot/msgbroker/chanbroker"
	"github.com/textileio/auctioneer-bot/msgbroker/gpubsub"
	"github.com/textileio/cli"
	"github.com/textileio/go-libp2p-pubsub-rpc/finalizer"
	golog "github.com/textileio/go-log/v2"
)

var (
	daemonName = "auctioneerd"
	log        = golog.Logger(daemonName)
	v          = viper.New()
	cv         = viper.New()
)

func init() {
	flags := []cli.Flag{
		{Name: "config", DefValue: "./auctioneer.yaml", Description: "Path to the fillers and profits config file"},
		{Name: "ledger-rpc-url", DefValue: "http://127.0.0.1:8000", Description: "Ledger gateway JSON-RPC URL"},
		{Name: "ledger-rpc-namespace", DefValue: "ledger", Description: "Ledger gateway JSON-RPC namespace"},
		{Name: "backstop-token", DefValue: "", Description: "Backstop token asset id"},
		{Name: "backstop-address", DefValue: "", Description: "Pool backstop identity"},
		{Name: "reference-stable", DefValue: "", Description: "Stablecoin asset id backstop token withdrawals are simulated into"},
		{Name: "native-asset", DefValue: "", Description: "Native asset id, kept for fees"},
		{Name: "native-fee-reserve", DefValue: int64(filler.DefaultNativeFeeReserve), Description: "Native asset amount never repaid"},
		{Name: "store-backend", DefValue: service.StoreBadger, Description: "Store backend (badger|postgres)"},
		{Name: "badger-path", DefValue: "./data/store", Description: "Badger store path"},
		{Name: "postgres-uri", DefValue: "", Description: "PostgreSQL URI of the postgres store"},
		{Name: "msgbroker", DefValue: "chan", Description: "Message broker (chan|gpubsub)"},
		{Name: "gpubsub-project-id", DefValue: "", Description: "Google PubSub project id"},
		{Name: "gpubsub-api-key", DefValue: "", Description: "Google PubSub API key"},
		{Name: "gpubsub-subscription", DefValue: daemonName, Description: "Google PubSub subscription name prefix"},
		{Name: "msgbroker-topic-prefix", DefValue: "", Description: "Topic prefix to use for msg broker topics"},
		{Name: "poll-interval", DefValue: collector.DefaultConfig.PollInterval, Description: "Ledger poll interval"},
		{Name: "liquidation-scan-interval", DefValue: uint64(collector.DefaultConfig.ScanInterval), Description: "Ledgers between liquidation scans"},
		{Name: "price-update-interval", DefValue: uint64(collector.DefaultConfig.PriceInterval), Description: "Ledgers between price updates"},
		{Name: "liquidation-hf-threshold", DefValue: "1.2", Description: "Health factor under which users are reloaded on scans"},
		{Name: "worker-signer", DefValue: "", Description: "Filler id submitting liquidations, defaults to the first filler"},
		{Name: "bid-max-retries", DefValue: bidder.DefaultConfig.MaxRetries, Description: "Bid submission retries"},
		{Name: "work-max-retries", DefValue: worker.DefaultConfig.MaxRetries, Description: "Liquidation submission retries"},
		{Name: "submit-timeout", DefValue: bidder.DefaultConfig.SubmitTimeout, Description: "Timeout of a single submission"},
		{Name: "dead-letter-path", DefValue: "./data/deadletters.jsonl", Description: "Dead-letter log path"},
		{Name: "http-addr", DefValue: ":8888", Description: "Status API listen address"},
		{Name: "metrics-addr", DefValue: ":9090", Description: "Prometheus listen address"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
		{Name: "log-levels", DefValue: "", Description: "Per-system log levels, e.g. auctioneer/bidder=debug,chanbroker=warn"},
	}

	cli.ConfigureCLI(v, "AUCTIONEER", flags, rootCmd.Flags())
}

var rootCmd = &cobra.Command{
	Use:   daemonName,
	Short: "auctioneerd fills pool auctions and liquidates unhealthy users",
	Long:  "auctioneerd fills pool auctions and liquidates unhealthy users",
	PersistentPreRun: func(c *cobra.Command, args []string) {
		cli.ExpandEnvVars(v, v.AllSettings())
		err := cli.ConfigureLogging(v, []string{
			daemonName,
			"common",
			"auctioneer/api",
			"auctioneer/bidder",
			"auctioneer/collector",
			"auctioneer/filler",
			"auctioneer/notifier",
			"auctioneer/prices",
			"auctioneer/reactor",
			"auctioneer/service",
			"auctioneer/store",
			"auctioneer/valuation",
			"auctioneer/worker",
			"submitter",
			"ledger/rpcgateway",
			"chanbroker",
			"gpubsub",
		})
		cli.CheckErrf("setting log levels: %v", err)

		levels, err := logging.ParseLevels(v.GetString("log-levels"))
		cli.CheckErrf("parsing log levels: %v", err)
		cli.CheckErrf("setting log levels: %v", logging.SetLogLevels(levels))
	},
	Run: func(c *cobra.Command, args []string) {
		settings, err := cli.MarshalConfig(v, !v.GetBool("log-json"), "gpubsub-api-key", "postgres-uri")
		cli.CheckErrf("marshaling config: %v", err)
		log.Infof("loaded config: %s", string(settings))

		cv.SetConfigFile(v.GetString("config"))
		err = cv.ReadInConfig()
		cli.CheckErrf("reading fillers config: %v", err)
		var (
			fillers filler.Fillers
			profits []filler.ProfitRule
		)
		cli.CheckErrf("decoding fillers: %v", cv.UnmarshalKey("fillers", &fillers))
		cli.CheckErrf("decoding profits: %v", cv.UnmarshalKey("profits", &profits))

		fin := finalizer.NewFinalizer()

		instr, err := common.SetupInstrumentation(v.GetString("metrics-addr"))
		cli.CheckErrf("booting instrumentation: %v", err)
		fin.Add(instr)

		ctx, cancel := context.WithTimeout(context.Background(), v.GetDuration("submit-timeout"))
		gw, err := rpcgateway.Dial(ctx, v.GetString("ledger-rpc-url"),
			rpcgateway.WithNamespace(v.GetString("ledger-rpc-namespace")),
			rpcgateway.WithReferenceStable(v.GetString("reference-stable")))
		cancel()
		cli.CheckErrf("dialing ledger gateway: %v", err)
		fin.Add(gw)

		config := service.Config{
			StoreBackend:     v.GetString("store-backend"),
			BadgerPath:       v.GetString("badger-path"),
			PostgresURI:      v.GetString("postgres-uri"),
			BackstopToken:    v.GetString("backstop-token"),
			BackstopID:       v.GetString("backstop-address"),
			NativeAsset:      v.GetString("native-asset"),
			NativeFeeReserve: v.GetInt64("native-fee-reserve"),
			Fillers:          fillers,
			Profits:          profits,
			Collector: collector.Config{
				PollInterval:      v.GetDuration("poll-interval"),
				MaxPollInterval:   collector.DefaultConfig.MaxPollInterval,
				RequestTimeout:    v.GetDuration("submit-timeout"),
				ScanInterval:      uint32(v.GetUint64("liquidation-scan-interval")),
				PriceInterval:     uint32(v.GetUint64("price-update-interval")),
				MaxLedgersPerPoll: collector.DefaultConfig.MaxLedgersPerPoll,
			},
			Bidder: bidder.Config{
				MaxRetries:       v.GetInt("bid-max-retries"),
				SubmitTimeout:    v.GetDuration("submit-timeout"),
				MinRetryInterval: bidder.DefaultConfig.MinRetryInterval,
			},
			Worker: worker.Config{
				Signer:                v.GetString("worker-signer"),
				BackstopID:            v.GetString("backstop-address"),
				HealthFactorThreshold: v.GetFloat64("liquidation-hf-threshold"),
				MaxRetries:            v.GetInt("work-max-retries"),
				SubmitTimeout:         v.GetDuration("submit-timeout"),
				MinRetryInterval:      worker.DefaultConfig.MinRetryInterval,
			},
			DeadLetterPath: v.GetString("dead-letter-path"),
			HTTPAddr:       v.GetString("http-addr"),
		}
		if config.Worker.HealthFactorThreshold <= 1 {
			cli.CheckErr(fmt.Errorf("liquidation-hf-threshold must be greater than 1"))
		}

		mb, err := newMsgBroker()
		cli.CheckErrf("creating msgbroker: %v", err)

		serv, err := service.New(mb, gw, config)
		cli.CheckErrf("starting service: %v", err)
		fin.Add(serv)
		// The broker closes first so no handler runs on a closed service.
		fin.Add(mb)

		serv.Start()

		cli.HandleInterrupt(func() {
			cli.CheckErr(fin.Cleanupf("closing service: %v", nil))
		})
	},
}

type closableMsgBroker interface {
	msgbroker.MsgBroker
	Close() error
}

func newMsgBroker() (closableMsgBroker, error) {
	switch kind := v.GetString("msgbroker"); kind {
	case "chan":
		return chanbroker.New(0), nil
	case "gpubsub":
		return gpubsub.New(
			v.GetString("gpubsub-project-id"),
			v.GetString("gpubsub-api-key"),
			v.GetString("msgbroker-topic-prefix"),
			v.GetString("gpubsub-subscription"))
	default:
		return nil, fmt.Errorf("unknown msgbroker %q", kind)
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		cli.CheckErrf("loading .env: %v", err)
	}
	cli.CheckErr(rootCmd.Execute())
}
