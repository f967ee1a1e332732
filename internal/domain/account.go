package domain

// AccountOverview is the derived portfolio summary. It is recomputed from
// balances, positions, and the trade ledger on demand and never stored
// authoritatively: the invariant
//
//	TotalAssetValue ≈ Σ liquid balances + Σ unhedged value + Σ short value + Σ frozen
//
// is the primary reconciliation check.
type AccountOverview struct {
	InitialBalance     float64 `json:"initial_balance"`
	CurrentBalance     float64 `json:"current_balance"`
	TotalAssetValue    float64 `json:"total_asset_value"`
	TotalProfit        float64 `json:"total_profit"`
	ProfitRate         float64 `json:"profit_rate"`
	TotalFees          float64 `json:"total_fees"`
	UnhedgedValue      float64 `json:"unhedged_value"`
	ShortPositionValue float64 `json:"short_position_value"`
	FrozenAssets       float64 `json:"frozen_assets"`
}

// TypeStats aggregates ledger outcomes for one trade type.
type TypeStats struct {
	Count       int64   `json:"count"`
	Success     int64   `json:"success"`
	Failed      int64   `json:"failed"`
	TotalProfit float64 `json:"total_profit"`
	AvgProfit   float64 `json:"avg_profit"`
}

// TradeStats is the full statistics block derived from the ledger. It is a
// pure function of the ledger contents; recomputing it twice from the same
// ledger yields identical values.
type TradeStats struct {
	TotalTrades   int64                   `json:"total_trades"`
	SuccessTrades int64                   `json:"success_trades"`
	FailedTrades  int64                   `json:"failed_trades"`
	WinRate       float64                 `json:"win_rate"`
	TotalProfit   float64                 `json:"total_profit"`
	TotalFees     float64                 `json:"total_fees"`
	ByType        map[TradeType]TypeStats `json:"by_type"`
}
