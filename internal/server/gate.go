package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"riskgate/internal/gate"
)

const gateRequestKey = "riskgate.gate_request"

// tradeIntentBody is the /snipe/intent payload. The gate reads mint from it
// and the handler reads it again from gin's cached body.
type tradeIntentBody struct {
	Mint     string `json:"mint"`
	Lamports int64  `json:"lamports"`
}

var errNegativeLamports = errors.New("lamports must be positive")

// bindIntent reads the cached intent body. An empty body is not an error;
// a body that does not decode, or a negative trade size, is.
func bindIntent(c *gin.Context) (tradeIntentBody, error) {
	var body tradeIntentBody
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil && !errors.Is(err, io.EOF) {
		return tradeIntentBody{}, err
	}
	if body.Lamports < 0 {
		return tradeIntentBody{}, errNegativeLamports
	}
	return body, nil
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := &gate.Request{AdminToken: c.GetHeader(headerAdminToken)}
		out := s.adminChain.Evaluate(c.Request.Context(), req)
		if !out.Allowed {
			abortError(c, out.Decision.Status, out.Decision.Message)
			return
		}
		c.Next()
	}
}

func (s *Server) tradeGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := bindIntent(c)
		if err != nil {
			if errors.Is(err, errNegativeLamports) {
				abortError(c, http.StatusBadRequest, err.Error())
				return
			}
			s.logger.Debug().Err(err).Msg("trade intent body rejected")
			abortError(c, http.StatusBadRequest, "invalid body")
			return
		}

		mint := strings.TrimSpace(body.Mint)
		if mint == "" {
			mint = strings.TrimSpace(c.Query("mint"))
		}

		req := &gate.Request{
			AdminToken: c.GetHeader(headerAdminToken),
			Wallet:     strings.TrimSpace(c.GetHeader(headerWallet)),
			Mint:       mint,
		}
		out := s.tradeChain.Evaluate(c.Request.Context(), req)
		if s.deps.Recorder != nil {
			s.deps.Recorder.RecordOutcome(c.Request.Context(), req, out)
		}

		if !out.Allowed {
			resp := gin.H{"ok": false, "error": out.Decision.Message}
			if req.Risk != nil {
				resp["risk"] = req.Risk
			}
			c.AbortWithStatusJSON(out.Decision.Status, resp)
			return
		}

		c.Set(gateRequestKey, req)
		c.Next()
	}
}

func gateRequest(c *gin.Context) *gate.Request {
	if v, ok := c.Get(gateRequestKey); ok {
		if req, ok := v.(*gate.Request); ok {
			return req
		}
	}
	return &gate.Request{}
}
