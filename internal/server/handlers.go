package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"riskgate/internal/risk"
	"riskgate/internal/runtimecfg"
)

const defaultLamports = 500000

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.Health))
	healthy := true
	for _, hc := range s.deps.Health {
		if err := hc.Check(ctx); err != nil {
			checks[hc.Name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		checks[hc.Name] = "healthy"
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"ok":        healthy,
		"status":    state,
		"checks":    checks,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) getRisk(c *gin.Context) {
	res, err := s.deps.Scorer.Score(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, risk.ErrInvalidSubject):
			abortError(c, http.StatusBadRequest, "invalid mint")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			abortError(c, http.StatusServiceUnavailable, "risk evaluation cancelled")
		default:
			s.logger.Error().Err(err).Msg("risk evaluation failed")
			abortError(c, http.StatusInternalServerError, "risk evaluation failed")
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

type batchRequest struct {
	IDs   []string `json:"ids"`
	Mints []string `json:"mints"`
}

func (s *Server) batchRisk(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "ids[] required")
		return
	}
	ids := req.IDs
	if len(ids) == 0 {
		ids = req.Mints
	}
	if len(ids) == 0 {
		abortError(c, http.StatusBadRequest, "ids[] required")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": s.deps.Scorer.ScoreBatch(c.Request.Context(), ids)})
}

type denylistRequest struct {
	ID string `json:"id"`
}

func (s *Server) listDenylist(c *gin.Context) {
	items, err := s.deps.Denylist.List()
	if err != nil {
		s.logger.Error().Err(err).Msg("read denylist failed")
		abortError(c, http.StatusInternalServerError, "denylist unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "items": items})
}

func (s *Server) addDenylist(c *gin.Context) {
	s.updateDenylist(c, s.deps.Denylist.Add)
}

func (s *Server) removeDenylist(c *gin.Context) {
	s.updateDenylist(c, s.deps.Denylist.Remove)
}

func (s *Server) updateDenylist(c *gin.Context, apply func(string) (bool, error)) {
	var req denylistRequest
	_ = c.ShouldBindJSON(&req)
	id := strings.TrimSpace(req.ID)
	if id == "" {
		abortError(c, http.StatusBadRequest, "id required")
		return
	}

	changed, err := apply(id)
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("denylist update failed")
		abortError(c, http.StatusInternalServerError, "denylist update failed")
		return
	}
	s.deps.Scorer.Invalidate(id)

	items, err := s.deps.Denylist.List()
	if err != nil {
		abortError(c, http.StatusInternalServerError, "denylist unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "changed": changed, "items": items})
}

// configView is the admin-facing config: the persisted document plus the parsed wallet list.
type configView struct {
	runtimecfg.Document
	AllowedWalletsList []string `json:"ALLOWED_WALLETS_LIST"`
}

func newConfigView(cfg runtimecfg.RuntimeConfig) configView {
	wallets := cfg.AllowedWallets
	if wallets == nil {
		wallets = []string{}
	}
	return configView{Document: cfg.Document(), AllowedWalletsList: wallets}
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "config": newConfigView(s.deps.Runtime.Get())})
}

func (s *Server) saveConfig(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		abortError(c, http.StatusBadRequest, "unreadable body")
		return
	}
	patch, err := runtimecfg.ParsePatch(body)
	if err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := s.deps.Runtime.Save(patch)
	if err != nil {
		s.writeSaveError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "saved": saved.Document()})
}

func (s *Server) writeSaveError(c *gin.Context, err error) {
	if errors.Is(err, runtimecfg.ErrPersist) {
		s.logger.Error().Err(err).Msg("runtime config save failed")
		abortError(c, http.StatusInternalServerError, "failed to save config")
		return
	}
	abortError(c, http.StatusBadRequest, err.Error())
}

type walletRequest struct {
	Wallet string `json:"wallet"`
}

func (s *Server) listWallets(c *gin.Context) {
	wallets := s.deps.Runtime.Get().AllowedWallets
	if wallets == nil {
		wallets = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "wallets": wallets})
}

func (s *Server) addWallet(c *gin.Context) {
	s.updateWallets(c, s.deps.Runtime.AddWallet)
}

func (s *Server) removeWallet(c *gin.Context) {
	s.updateWallets(c, s.deps.Runtime.RemoveWallet)
}

func (s *Server) updateWallets(c *gin.Context, apply func(string) (runtimecfg.RuntimeConfig, bool, error)) {
	var req walletRequest
	_ = c.ShouldBindJSON(&req)
	wallet := strings.TrimSpace(req.Wallet)
	if wallet == "" {
		abortError(c, http.StatusBadRequest, "wallet required")
		return
	}

	saved, changed, err := apply(wallet)
	if err != nil {
		s.writeSaveError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "changed": changed, "saved": saved.Document()})
}

func (s *Server) tradeIntent(c *gin.Context) {
	body, err := bindIntent(c)
	if err != nil {
		abortError(c, http.StatusBadRequest, "invalid body")
		return
	}

	req := gateRequest(c)
	if req.Mint == "" {
		abortError(c, http.StatusBadRequest, "mint required")
		return
	}

	lamports := body.Lamports
	if lamports == 0 {
		lamports = defaultLamports
	}

	resp := gin.H{
		"ok":        true,
		"txId":      s.opts.DevTradeIntentTxn,
		"mint":      req.Mint,
		"lamports":  lamports,
		"timestamp": s.now().UnixMilli(),
	}
	if req.Risk != nil {
		resp["risk"] = req.Risk
	}
	c.JSON(http.StatusOK, resp)
}
