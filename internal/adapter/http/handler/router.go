package handler

import (
	"conditional-ledger/internal/adapter/http/middleware"
	"conditional-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxRequestBody = 1 << 20

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	TransferSvc    ports.TransferService
	PositionSvc    ports.PositionService
	SettlementSvc  ports.SettlementService // nil = bookkeeping endpoints disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxRequestBody))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	v1 := r.Group("/api/v1")

	transferHandler := NewTransferHandler(deps.TransferSvc)
	transfers := v1.Group("/transfers")
	{
		transfers.PUT("/:id", transferHandler.Prepare)
		transfers.GET("/:id", transferHandler.Get)
		transfers.PUT("/:id/fulfillment", transferHandler.Fulfill)
		transfers.PUT("/:id/rejection", transferHandler.Reject)
	}

	positionHandler := NewPositionHandler(deps.PositionSvc)
	positions := v1.Group("/positions")
	{
		positions.GET("", positionHandler.List)
		positions.GET("/:account", positionHandler.Get)
	}

	if deps.SettlementSvc != nil {
		settlementHandler := NewSettlementHandler(deps.SettlementSvc)
		v1.POST("/fees", settlementHandler.RecordFee)
		v1.POST("/settlements", settlementHandler.Settle)
	}

	return r
}
