package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/tradevault/settlement-router/internal/config"
	"github.com/tradevault/settlement-router/internal/escrow"
	"github.com/tradevault/settlement-router/internal/escrow/autorelease"
	"github.com/tradevault/settlement-router/internal/handlers/httphandlers"
	"github.com/tradevault/settlement-router/internal/interfaces"
	"github.com/tradevault/settlement-router/internal/lib"
	"github.com/tradevault/settlement-router/internal/marketdata"
	"github.com/tradevault/settlement-router/internal/repositories/chain"
	"github.com/tradevault/settlement-router/internal/repositories/ledger"
	"github.com/tradevault/settlement-router/internal/repositories/quotes"
	"golang.org/x/sync/errgroup"
)

func main() {
	var cfg config.Config
	err := config.LoadConfig(&cfg, &os.Args)
	if err != nil {
		panic(err)
	}

	log, err := lib.NewLogger(cfg.Log.LevelApp, cfg.Log.Color, cfg.Log.IsProd, cfg.Log.JSON, cfg.Log.FolderPath)
	if err != nil {
		panic(err)
	}

	escrowLog, err := lib.NewLogger(cfg.Log.LevelEscrow, cfg.Log.Color, cfg.Log.IsProd, cfg.Log.JSON, cfg.Log.FolderPath)
	if err != nil {
		panic(err)
	}

	schedulerLog, err := lib.NewLogger(cfg.Log.LevelScheduler, cfg.Log.Color, cfg.Log.IsProd, cfg.Log.JSON, cfg.Log.FolderPath)
	if err != nil {
		panic(err)
	}

	marketLog, err := lib.NewLogger(cfg.Log.LevelMarket, cfg.Log.Color, cfg.Log.IsProd, cfg.Log.JSON, cfg.Log.FolderPath)
	if err != nil {
		panic(err)
	}

	defer func() {
		_ = log.Sync()
	}()

	ctx, cancel := context.WithCancel(context.Background())

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-shutdownChan
		log.Warnf("Received signal: %s", s)
		cancel()

		s = <-shutdownChan
		log.Warnf("Received signal: %s. Forcing exit...", s)
		os.Exit(1)
	}()

	var gateway escrow.Gateway
	if cfg.Blockchain.EthNodeAddress != "" {
		client, err := ethclient.DialContext(ctx, cfg.Blockchain.EthNodeAddress)
		if err != nil {
			panic(err)
		}
		ethGateway := chain.NewEthereumGateway(client, cfg.Blockchain.PrivateKey, escrowLog.Named("GATEWAY"))
		ethGateway.SetLegacyTx(cfg.Blockchain.EthLegacyTx)
		gateway = ethGateway
		log.Infof("settlement gateway: ethereum node %s", cfg.Blockchain.EthNodeAddress)
	} else {
		gateway = chain.NewGatewayMock()
		log.Warnf("settlement gateway: mock, transfers are not executed")
	}

	store := ledger.NewMemoryStore()
	events := escrow.NewEventBus()

	engine := escrow.NewEngine(store, gateway, events, escrow.DefaultCurrencyRegistry(), cfg.Escrow.FeeRateBps, cfg.Escrow.GatewayTimeout, escrowLog.Named("ENGINE"))
	engine.SetDefaultQuorum(cfg.Escrow.RequiredSignatures)

	tracker := escrow.NewQuorumTracker(store, engine.Locks(), engine, events, escrowLog.Named("QUORUM"))

	scheduler := autorelease.NewScheduler(store, engine, nil, cfg.Escrow.AutoReleaseInterval, schedulerLog)

	sources := map[marketdata.Market]marketdata.Source{}
	if cfg.Market.EquityURL != "" {
		equityURL, err := url.Parse(cfg.Market.EquityURL)
		if err != nil {
			panic(err)
		}
		src := quotes.NewHTTPSource(equityURL, cfg.Market.FetchTimeout)
		sources[marketdata.MarketEquity] = src
		sources[marketdata.MarketIndex] = src
	}
	if cfg.Market.CryptoURL != "" {
		cryptoURL, err := url.Parse(cfg.Market.CryptoURL)
		if err != nil {
			panic(err)
		}
		sources[marketdata.MarketCrypto] = quotes.NewHTTPSource(cryptoURL, cfg.Market.FetchTimeout)
	}
	if cfg.Market.ForexURL != "" {
		forexURL, err := url.Parse(cfg.Market.ForexURL)
		if err != nil {
			panic(err)
		}
		sources[marketdata.MarketForex] = quotes.NewHTTPSource(forexURL, cfg.Market.FetchTimeout)
	}

	cache := marketdata.NewCache(cfg.Market.CacheTTL, cfg.Market.QuoteHistory)
	fanout := marketdata.NewFanout(marketdata.NewSourceMux(sources), cache, cfg.Market.PollInterval, cfg.Market.FetchTimeout, cfg.Market.MaxSubscriptions, marketLog)
	defer fanout.Close()

	publicUrl, err := url.Parse(cfg.Web.PublicUrl)
	if err != nil {
		panic(err)
	}

	r := httphandlers.NewHTTPHandler(engine, tracker, store, fanout, publicUrl, &cfg, log.Named("HTTP"))
	server := &http.Server{Addr: cfg.Web.Address, Handler: r}

	g, gCtx := errgroup.WithContext(ctx)

	for _, service := range []interfaces.Runnable{scheduler} {
		service := service
		g.Go(func() error {
			return service.Run(gCtx)
		})
	}

	g.Go(func() error {
		log.Infof("http server is listening: %s", cfg.Web.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Infof("App exited due to %s", err)
}
