package state

import (
	"context"
	"encoding/json"
	"strings"
)

// CycleSnapshot records the outcome of the last completed decision cycle
// for one market, persisted so restarts can report what the bot last did.
type CycleSnapshot struct {
	Market       string  `json:"market"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	BaseFree     float64 `json:"base_free"`
	AssetFree    float64 `json:"asset_free"`
	BuyAccepted  bool    `json:"buy_accepted"`
	SellAccepted bool    `json:"sell_accepted"`
	BuyReason    string  `json:"buy_reason"`
	SellReason   string  `json:"sell_reason"`
	OpenOrders   int     `json:"open_orders"`
	UpdatedAtMS  int64   `json:"updated_at_ms"`
}

func cycleSnapshotKey(market string) string {
	return "cycle:last_snapshot:" + market
}

func LoadCycleSnapshot(ctx context.Context, store Store, market string) (CycleSnapshot, bool, error) {
	if store == nil {
		return CycleSnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, cycleSnapshotKey(market))
	if err != nil {
		return CycleSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return CycleSnapshot{}, false, nil
	}
	var snapshot CycleSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return CycleSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveCycleSnapshot(ctx context.Context, store Store, snapshot CycleSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, cycleSnapshotKey(snapshot.Market), string(payload))
}
