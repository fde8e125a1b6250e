package httphandlers

import (
	"net/url"

	"net/http/pprof"

	"github.com/gin-gonic/gin"
	"github.com/tradevault/settlement-router/internal/config"
	"github.com/tradevault/settlement-router/internal/escrow"
	"github.com/tradevault/settlement-router/internal/interfaces"
	"github.com/tradevault/settlement-router/internal/marketdata"
)

type HTTPHandler struct {
	engine    *escrow.Engine
	tracker   *escrow.QuorumTracker
	store     escrow.Store
	fanout    *marketdata.Fanout
	publicUrl *url.URL
	config    *config.Config
	log       interfaces.ILogger
}

func NewHTTPHandler(engine *escrow.Engine, tracker *escrow.QuorumTracker, store escrow.Store, fanout *marketdata.Fanout, publicUrl *url.URL, cfg *config.Config, log interfaces.ILogger) *gin.Engine {
	handl := &HTTPHandler{
		engine:    engine,
		tracker:   tracker,
		store:     store,
		fanout:    fanout,
		publicUrl: publicUrl,
		config:    cfg,
		log:       log,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.GET("/healthcheck", handl.HealthCheck)
	r.GET("/config", handl.GetConfig)
	r.GET("/escrows", handl.GetEscrows)
	r.GET("/escrows/:ID", handl.GetEscrow)
	r.GET("/subscriptions", handl.GetSubscriptions)

	r.POST("/escrows", handl.CreateEscrow)
	r.POST("/escrows/:ID/fund", handl.FundEscrow)
	r.POST("/escrows/:ID/lock", handl.LockEscrow)
	r.POST("/escrows/:ID/release", handl.ReleaseEscrow)
	r.POST("/escrows/:ID/refund", handl.RefundEscrow)
	r.POST("/escrows/:ID/signatures", handl.AddSignature)
	r.POST("/escrows/:ID/dispute", handl.OpenDispute)
	r.POST("/escrows/:ID/resolve", handl.ResolveDispute)

	r.Any("/debug/pprof/*action", gin.WrapF(pprof.Index))

	err := r.SetTrustedProxies(nil)
	if err != nil {
		panic(err)
	}

	return r
}

func (h *HTTPHandler) HealthCheck(ctx *gin.Context) {
	ctx.JSON(200, gin.H{
		"status":  "healthy",
		"version": config.BuildVersion,
	})
}

func (h *HTTPHandler) GetConfig(ctx *gin.Context) {
	ctx.JSON(200, h.config.GetSanitized())
}

func (h *HTTPHandler) GetSubscriptions(ctx *gin.Context) {
	symbols := h.fanout.ActiveSymbols()

	data := make([]Subscription, 0, len(symbols))
	for _, symbol := range symbols {
		data = append(data, Subscription{
			Symbol:      symbol,
			Market:      string(marketdata.ClassifySymbol(symbol)),
			Subscribers: h.fanout.SubscriberCount(symbol),
		})
	}

	ctx.JSON(200, data)
}
