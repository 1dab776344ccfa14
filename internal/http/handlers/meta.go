package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type MetaHandler struct {
	env      string
	version  string
	chainID  string
	currency string
}

func NewMetaHandler(env, version, chainID, currency string) *MetaHandler {
	return &MetaHandler{env: env, version: version, chainID: chainID, currency: currency}
}

func (h *MetaHandler) GetMeta(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":              "P2P Lending Client",
		"version":           h.version,
		"env":               h.env,
		"expected_chain_id": h.chainID,
		"display_currency":  h.currency,
	})
}
