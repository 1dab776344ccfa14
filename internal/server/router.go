package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/p2plend/client/internal/config"
	"github.com/p2plend/client/internal/http/handlers"
	"github.com/p2plend/client/internal/http/middleware"
	"github.com/p2plend/client/internal/version"
)

type Dependencies struct {
	Session         handlers.ConnectionChecker
	Pinger          handlers.Pinger
	SessionHandler  *handlers.SessionHandler
	BorrowerHandler *handlers.BorrowerHandler
	InvestorHandler *handlers.InvestorHandler
	SettingsHandler *handlers.SettingsHandler
	OpsHandler      *handlers.OpsHandler
	Stream          gin.HandlerFunc
	Metrics         http.Handler
	Recorder        middleware.HTTPRecorder
}

func NewRouter(cfg config.Config, logger *slog.Logger, deps Dependencies) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Observe(logger, deps.Recorder))

	health := handlers.NewHealthHandler(deps.Session, deps.Pinger)
	meta := handlers.NewMetaHandler(cfg.Env, version.Version, strconv.FormatInt(cfg.ChainID, 10), cfg.DisplayCurrency)

	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/v1/meta", meta.GetMeta)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	if deps.Stream != nil {
		r.GET("/v1/stream", deps.Stream)
	}

	v1 := r.Group("/v1")
	v1.Use(middleware.RequestBodyLimit(cfg.MaxBodyBytes))

	if h := deps.SessionHandler; h != nil {
		v1.GET("/session", h.GetSession)
		v1.POST("/session/connect", h.Connect)
		v1.POST("/session/disconnect", h.Disconnect)
	}
	if h := deps.BorrowerHandler; h != nil {
		g := v1.Group("/borrower")
		g.GET("", h.GetBorrower)
		g.POST("/quote", h.RequestQuote)
		g.POST("/commit", h.Commit)
		g.POST("/dismiss", h.Dismiss)
		g.GET("/payback", h.PayBackPossible)
		g.POST("/payback", h.PayBack)
		g.POST("/withdraw", h.WithdrawMoney)
	}
	if h := deps.InvestorHandler; h != nil {
		g := v1.Group("/investor")
		g.GET("/opportunities", h.ListOpportunities)
		g.POST("/opportunities/:address/invest", h.Invest)
		g.GET("/investments", h.ListInvestments)
		g.GET("/investments/:address/withdrawable", h.WithdrawPossible)
		g.POST("/investments/:address/withdraw", h.Withdraw)
	}
	if h := deps.SettingsHandler; h != nil {
		v1.GET("/settings/contract", h.GetContract)
		v1.PUT("/settings/contract", h.PutContract)
	}
	if h := deps.OpsHandler; h != nil {
		g := v1.Group("/ops")
		g.GET("/contract-time", h.GetContractTime)
		g.PUT("/contract-time", h.SetContractTime)
		g.GET("/liquidity", h.GetLiquidity)
		g.POST("/liquidity", h.ProvideLiquidity)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	return r
}
