package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateMint   string
	simulateWallet string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次高风险拦截并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateMint == "" {
			return errors.New("--mint 不能为空")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateMint, simulateWallet)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateMint, "mint", "", "被拦截的代币 mint 地址")
	simulateCmd.Flags().StringVar(&simulateWallet, "wallet", "", "发起交易意图的钱包（可选）")
}
