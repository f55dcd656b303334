package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"riskgate/internal/gate"
	"riskgate/internal/risk"
)

// SimulateAlert 构造一次被关键风险拦截的交易意图，并走完整的告警流程。
func (a *App) SimulateAlert(ctx context.Context, mint, wallet string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if a.newNotifier() == nil {
		return errors.New("未配置任何告警通道")
	}

	mint = strings.TrimSpace(mint)
	if mint == "" {
		return errors.New("mint required")
	}

	now := time.Now().UTC()
	res := risk.Evaluate(mint, risk.Signals{Denylisted: true}, risk.Thresholds{}, now)
	req := &gate.Request{Wallet: wallet, Mint: mint, Risk: &res}
	out := gate.Outcome{
		Chain:     "trade",
		DecidedBy: gate.CheckRisk,
		Decision:  gate.Deny(http.StatusBadRequest, gate.CodeCriticalRisk, "blocked by critical risk"),
		Trail: []gate.Step{
			{Check: gate.CheckAdminOverride, Verdict: gate.VerdictPass.String()},
			{Check: gate.CheckTradingAccess, Verdict: gate.VerdictPass.String()},
			{Check: gate.CheckRisk, Verdict: gate.VerdictDeny.String(), Code: gate.CodeCriticalRisk},
		},
	}

	svc := a.newService(nil, nil, nil)
	if err := svc.NotifyDenial(ctx, req, out); err != nil {
		return err
	}
	a.Logger.Info().Str("mint", mint).Msg("模拟告警已发送")
	return nil
}
