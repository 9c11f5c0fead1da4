package restapi

import (
	"context"
	"net/http"

	"portfolio_tracker/internal/app/port"
	"portfolio_tracker/internal/app/service"
	"portfolio_tracker/internal/domain/entity"

	"github.com/gin-gonic/gin"
)

// WalletHandler serves wallet store reads and batch fetch control.
type WalletHandler struct {
	store          port.WalletStore
	orchestrator   *service.FetchOrchestrator
	walletProvider port.WalletProvider
	logger         port.Logger
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(store port.WalletStore, o *service.FetchOrchestrator, wp port.WalletProvider, l port.Logger) *WalletHandler {
	return &WalletHandler{store: store, orchestrator: o, walletProvider: wp, logger: l}
}

// ListWalletsHandler returns every stored wallet record.
func (h *WalletHandler) ListWalletsHandler(c *gin.Context) {
	records := h.store.All()
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"wallets": records,
	})
}

// GetWalletHandler returns the record for one address.
func (h *WalletHandler) GetWalletHandler(c *gin.Context) {
	address := c.Param("address")
	record, ok := h.store.Get(address)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": entity.ErrWalletNotFound.Error(), "address": address})
		return
	}
	c.JSON(http.StatusOK, record)
}

// RemoveWalletHandler deletes the record for one address.
func (h *WalletHandler) RemoveWalletHandler(c *gin.Context) {
	address := c.Param("address")
	if err := h.store.Remove(address); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// AggregateHandler returns the cross-wallet summary over the whole store.
func (h *WalletHandler) AggregateHandler(c *gin.Context) {
	c.JSON(http.StatusOK, service.Aggregate(h.store.All()))
}

// TokensByChainHandler returns the per-chain token breakdown: tokens merged
// by symbol and chain without cross-chain collapsing.
func (h *WalletHandler) TokensByChainHandler(c *gin.Context) {
	tokens := service.PerChainTokens(h.store.All())
	c.JSON(http.StatusOK, gin.H{
		"count":  len(tokens),
		"tokens": tokens,
	})
}

// DeduplicateHandler runs a dedup pass over the store.
func (h *WalletHandler) DeduplicateHandler(c *gin.Context) {
	result, err := h.store.Deduplicate()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type fetchRequest struct {
	Addresses   []string `json:"addresses"`
	ForceUpdate bool     `json:"forceUpdate"`
}

// StartFetchHandler kicks off an asynchronous batch fetch. When no
// addresses are supplied the configured wallet list file is used.
func (h *WalletHandler) StartFetchHandler(c *gin.Context) {
	// An empty body is fine and means "fetch the configured wallet list".
	var req fetchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	addresses := req.Addresses
	if len(addresses) == 0 {
		loaded, err := h.walletProvider.GetAddresses()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load wallet list: " + err.Error()})
			return
		}
		addresses = loaded
	}
	if len(addresses) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no addresses to fetch"})
		return
	}

	if h.orchestrator.Progress().Running {
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrFetchInProgress.Error()})
		return
	}

	// The run outlives the HTTP request.
	go func() {
		report, err := h.orchestrator.FetchAddresses(context.Background(), addresses, req.ForceUpdate)
		if err != nil {
			h.logger.Error("Batch fetch aborted", "error", err)
			return
		}
		h.logger.Info("Batch fetch completed",
			"fetched", len(report.Fetched),
			"failed", len(report.Failed),
			"skipped", len(report.Skipped))
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":      "started",
		"addresses":   len(addresses),
		"forceUpdate": req.ForceUpdate,
	})
}

// FetchProgressHandler returns a snapshot of the running batch, if any.
func (h *WalletHandler) FetchProgressHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.Progress())
}
