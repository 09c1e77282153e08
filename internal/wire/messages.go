package wire

import "fmt"

// Message type discriminators, carried in every frame's "message_type" field.
const (
	MsgHeartbeat        = "Heartbeat"
	MsgTradeSignal      = "TradeSignal"
	MsgRequestConfig    = "RequestConfig"
	MsgUnregister       = "Unregister"
	MsgSyncRequest      = "SyncRequest"
	MsgPositionSnapshot = "PositionSnapshot"
	MsgMasterConfig     = "MasterConfig"
	MsgSlaveConfig      = "SlaveConfig"
	MsgVLogsConfig      = "VLogsConfig"
)

// Roles, as carried on Heartbeat.
const (
	RoleMaster = "Master"
	RoleSlave  = "Slave"
)

// TradeSignal actions.
const (
	ActionOpen   = "Open"
	ActionClose  = "Close"
	ActionModify = "Modify"
)

// Heartbeat is sent periodically by every connected EA and doubles as the
// liveness/registration record the connection manager keys its EaConnection
// table on.
type Heartbeat struct {
	AccountID      string
	Role           string
	Platform       string
	AccountNumber  int64
	Broker         string
	AccountName    string
	Server         string
	Balance        float64
	Equity         float64
	Currency       string
	Leverage       int64
	OpenPositions  int64
	IsTradeAllowed bool
	Timestamp      string
	Version        string

	// Master-only.
	SymbolPrefix *string
	SymbolSuffix *string
}

func (h *Heartbeat) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"message_type":     MsgHeartbeat,
		"account_id":       h.AccountID,
		"role":             h.Role,
		"platform":         h.Platform,
		"account_number":   h.AccountNumber,
		"broker":           h.Broker,
		"account_name":     h.AccountName,
		"server":           h.Server,
		"balance":          h.Balance,
		"equity":           h.Equity,
		"currency":         h.Currency,
		"leverage":         h.Leverage,
		"open_positions":   h.OpenPositions,
		"is_trade_allowed": h.IsTradeAllowed,
		"timestamp":        h.Timestamp,
		"version":          h.Version,
	}
	setIfNotNil(m, "symbol_prefix", h.SymbolPrefix)
	setIfNotNil(m, "symbol_suffix", h.SymbolSuffix)
	return m
}

func decodeHeartbeat(m map[string]interface{}) (*Heartbeat, error) {
	h := &Heartbeat{}
	var err error
	if h.AccountID, err = requireString(m, "account_id"); err != nil {
		return nil, err
	}
	if h.Role, err = requireString(m, "role"); err != nil {
		return nil, err
	}
	if h.Role != RoleMaster && h.Role != RoleSlave {
		return nil, fmt.Errorf("%w: role must be Master or Slave, got %q", ErrMalformed, h.Role)
	}
	if h.Platform, err = requireString(m, "platform"); err != nil {
		return nil, err
	}
	if h.AccountNumber, err = requireInt64(m, "account_number"); err != nil {
		return nil, err
	}
	if h.Broker, err = requireString(m, "broker"); err != nil {
		return nil, err
	}
	if h.AccountName, err = requireString(m, "account_name"); err != nil {
		return nil, err
	}
	if h.Server, err = requireString(m, "server"); err != nil {
		return nil, err
	}
	if h.Balance, err = requireFloat64(m, "balance"); err != nil {
		return nil, err
	}
	if h.Equity, err = requireFloat64(m, "equity"); err != nil {
		return nil, err
	}
	if h.Currency, err = requireString(m, "currency"); err != nil {
		return nil, err
	}
	if h.Leverage, err = requireInt64(m, "leverage"); err != nil {
		return nil, err
	}
	if h.OpenPositions, err = requireInt64(m, "open_positions"); err != nil {
		return nil, err
	}
	if h.IsTradeAllowed, err = requireBool(m, "is_trade_allowed"); err != nil {
		return nil, err
	}
	if h.Timestamp, err = requireString(m, "timestamp"); err != nil {
		return nil, err
	}
	if h.Version, err = requireString(m, "version"); err != nil {
		return nil, err
	}
	if h.Role == RoleMaster {
		if h.SymbolPrefix, err = requireOptString(m, "symbol_prefix"); err != nil {
			return nil, err
		}
		h.SymbolSuffix = optString(m, "symbol_suffix")
	}
	return h, nil
}

// requireOptString is a permissive optional getter used where a field is
// conventionally present for a role but its absence is not itself malformed
// (Masters without a configured prefix still heartbeat).
func requireOptString(m map[string]interface{}, key string) (*string, error) {
	return optString(m, key), nil
}

// TradeSignal carries a single order event from a Master to the copy engine.
// Required fields depend on Action: Open carries the order's economic
// terms, Close carries CloseRatio, Modify carries the changed stop/target.
type TradeSignal struct {
	Action        string
	Ticket        int64
	SourceAccount string
	Timestamp     string

	// Open.
	Symbol      *string
	OrderType   *string
	Lots        *float64
	OpenPrice   *float64
	StopLoss    *float64
	TakeProfit  *float64
	MagicNumber *int64
	Comment     *string

	// Close.
	CloseRatio *float64
}

func (t *TradeSignal) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"message_type":   MsgTradeSignal,
		"action":         t.Action,
		"ticket":         t.Ticket,
		"source_account": t.SourceAccount,
		"timestamp":      t.Timestamp,
	}
	setIfNotNil(m, "symbol", t.Symbol)
	setIfNotNil(m, "order_type", t.OrderType)
	setIfNotNil(m, "lots", t.Lots)
	setIfNotNil(m, "open_price", t.OpenPrice)
	setIfNotNil(m, "stop_loss", t.StopLoss)
	setIfNotNil(m, "take_profit", t.TakeProfit)
	setIfNotNil(m, "magic_number", t.MagicNumber)
	setIfNotNil(m, "comment", t.Comment)
	setIfNotNil(m, "close_ratio", t.CloseRatio)
	return m
}

func decodeTradeSignal(m map[string]interface{}) (*TradeSignal, error) {
	t := &TradeSignal{}
	var err error
	if t.Action, err = requireString(m, "action"); err != nil {
		return nil, err
	}
	if t.Ticket, err = requireInt64(m, "ticket"); err != nil {
		return nil, err
	}
	if t.SourceAccount, err = requireString(m, "source_account"); err != nil {
		return nil, err
	}
	if t.Timestamp, err = requireString(m, "timestamp"); err != nil {
		return nil, err
	}

	switch t.Action {
	case ActionOpen:
		symbol, err := requireString(m, "symbol")
		if err != nil {
			return nil, err
		}
		t.Symbol = &symbol
		orderType, err := requireString(m, "order_type")
		if err != nil {
			return nil, err
		}
		t.OrderType = &orderType
		lots, err := requireFloat64(m, "lots")
		if err != nil {
			return nil, err
		}
		t.Lots = &lots
		openPrice, err := requireFloat64(m, "open_price")
		if err != nil {
			return nil, err
		}
		t.OpenPrice = &openPrice
		t.StopLoss = optFloat64(m, "stop_loss")
		t.TakeProfit = optFloat64(m, "take_profit")
		t.MagicNumber = optInt64(m, "magic_number")
		t.Comment = optString(m, "comment")
	case ActionClose:
		ratio, err := requireFloat64(m, "close_ratio")
		if err != nil {
			return nil, err
		}
		t.CloseRatio = &ratio
	case ActionModify:
		t.StopLoss = optFloat64(m, "stop_loss")
		t.TakeProfit = optFloat64(m, "take_profit")
	default:
		return nil, fmt.Errorf("%w: unknown trade signal action %q", ErrMalformed, t.Action)
	}
	return t, nil
}

// RequestConfig asks the relay to (re)publish the caller's current config,
// used after an EA reconnect or a manual refresh.
type RequestConfig struct {
	AccountID string
	Role      string
	Timestamp string
}

func (r *RequestConfig) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"message_type": MsgRequestConfig,
		"account_id":   r.AccountID,
		"role":         r.Role,
		"timestamp":    r.Timestamp,
	}
}

func decodeRequestConfig(m map[string]interface{}) (*RequestConfig, error) {
	r := &RequestConfig{}
	var err error
	if r.AccountID, err = requireString(m, "account_id"); err != nil {
		return nil, err
	}
	if r.Role, err = requireString(m, "role"); err != nil {
		return nil, err
	}
	if r.Timestamp, err = requireString(m, "timestamp"); err != nil {
		return nil, err
	}
	return r, nil
}

// Unregister is an explicit graceful-disconnect notice, letting the
// connection manager drop the EaConnection immediately rather than waiting
// for the sweeper's timeout.
type Unregister struct {
	AccountID string
	Timestamp string
}

func (u *Unregister) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"message_type": MsgUnregister,
		"account_id":   u.AccountID,
		"timestamp":    u.Timestamp,
	}
}

func decodeUnregister(m map[string]interface{}) (*Unregister, error) {
	u := &Unregister{}
	var err error
	if u.AccountID, err = requireString(m, "account_id"); err != nil {
		return nil, err
	}
	if u.Timestamp, err = requireString(m, "timestamp"); err != nil {
		return nil, err
	}
	return u, nil
}

// SyncRequest asks for a fresh PositionSnapshot-driven reconciliation
// between one Master/Slave pair, used after a Slave reconnects mid-session.
type SyncRequest struct {
	SlaveAccount  string
	MasterAccount string
	Timestamp     string
}

func (s *SyncRequest) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"message_type":   MsgSyncRequest,
		"slave_account":  s.SlaveAccount,
		"master_account": s.MasterAccount,
		"timestamp":      s.Timestamp,
	}
}

func decodeSyncRequest(m map[string]interface{}) (*SyncRequest, error) {
	s := &SyncRequest{}
	var err error
	if s.SlaveAccount, err = requireString(m, "slave_account"); err != nil {
		return nil, err
	}
	if s.MasterAccount, err = requireString(m, "master_account"); err != nil {
		return nil, err
	}
	if s.Timestamp, err = requireString(m, "timestamp"); err != nil {
		return nil, err
	}
	return s, nil
}

// Position is one open order inside a PositionSnapshot.
type Position struct {
	Ticket      int64
	Symbol      string
	OrderType   string
	Lots        float64
	OpenPrice   float64
	StopLoss    *float64
	TakeProfit  *float64
	MagicNumber *int64
	Comment     *string
}

func (p *Position) toMap() map[string]interface{} {
	m := map[string]interface{}{
		"ticket":     p.Ticket,
		"symbol":     p.Symbol,
		"order_type": p.OrderType,
		"lots":       p.Lots,
		"open_price": p.OpenPrice,
	}
	setIfNotNil(m, "stop_loss", p.StopLoss)
	setIfNotNil(m, "take_profit", p.TakeProfit)
	setIfNotNil(m, "magic_number", p.MagicNumber)
	setIfNotNil(m, "comment", p.Comment)
	return m
}

func decodePosition(v interface{}) (Position, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return Position{}, fmt.Errorf("%w: position entry must be a map", ErrMalformed)
	}
	p := Position{}
	var err error
	if p.Ticket, err = requireInt64(m, "ticket"); err != nil {
		return Position{}, err
	}
	if p.Symbol, err = requireString(m, "symbol"); err != nil {
		return Position{}, err
	}
	if p.OrderType, err = requireString(m, "order_type"); err != nil {
		return Position{}, err
	}
	if p.Lots, err = requireFloat64(m, "lots"); err != nil {
		return Position{}, err
	}
	if p.OpenPrice, err = requireFloat64(m, "open_price"); err != nil {
		return Position{}, err
	}
	p.StopLoss = optFloat64(m, "stop_loss")
	p.TakeProfit = optFloat64(m, "take_profit")
	p.MagicNumber = optInt64(m, "magic_number")
	p.Comment = optString(m, "comment")
	return p, nil
}

// PositionSnapshot is the full open-order book of one account, used to
// reconcile Slave state against a Master's ground truth.
type PositionSnapshot struct {
	SourceAccount string
	Positions     []Position
	Timestamp     string
}

func (s *PositionSnapshot) ToMap() map[string]interface{} {
	positions := make([]interface{}, len(s.Positions))
	for i := range s.Positions {
		positions[i] = s.Positions[i].toMap()
	}
	return map[string]interface{}{
		"message_type":   MsgPositionSnapshot,
		"source_account": s.SourceAccount,
		"positions":      positions,
		"timestamp":      s.Timestamp,
	}
}

func decodePositionSnapshot(m map[string]interface{}) (*PositionSnapshot, error) {
	s := &PositionSnapshot{}
	var err error
	if s.SourceAccount, err = requireString(m, "source_account"); err != nil {
		return nil, err
	}
	if s.Timestamp, err = requireString(m, "timestamp"); err != nil {
		return nil, err
	}
	raw, ok := m["positions"]
	if !ok {
		return nil, fmt.Errorf("%w: missing required field %q", ErrMalformed, "positions")
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: field %q must be an array", ErrMalformed, "positions")
	}
	s.Positions = make([]Position, 0, len(arr))
	for _, elem := range arr {
		p, err := decodePosition(elem)
		if err != nil {
			return nil, err
		}
		s.Positions = append(s.Positions, p)
	}
	return s, nil
}

// MasterConfig is the relay-computed config pushed to a Master EA, carrying
// its current runtime status and any standing warnings.
type MasterConfig struct {
	AccountID     string
	Status        int64
	SymbolPrefix  string
	SymbolSuffix  string
	ConfigVersion int64
	WarningCodes  []string
}

func (c *MasterConfig) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"message_type":   MsgMasterConfig,
		"account_id":     c.AccountID,
		"status":         c.Status,
		"symbol_prefix":  c.SymbolPrefix,
		"symbol_suffix":  c.SymbolSuffix,
		"config_version": c.ConfigVersion,
		"warning_codes":  toInterfaceStringSlice(c.WarningCodes),
	}
}

func decodeMasterConfig(m map[string]interface{}) (*MasterConfig, error) {
	c := &MasterConfig{}
	var err error
	if c.AccountID, err = requireString(m, "account_id"); err != nil {
		return nil, err
	}
	if c.Status, err = requireInt64(m, "status"); err != nil {
		return nil, err
	}
	c.SymbolPrefix = stringOr(m, "symbol_prefix", "")
	c.SymbolSuffix = stringOr(m, "symbol_suffix", "")
	if c.ConfigVersion, err = requireInt64(m, "config_version"); err != nil {
		return nil, err
	}
	c.WarningCodes = stringSlice(m, "warning_codes")
	return c, nil
}

// SymbolMapping renames one Master symbol to its Slave-side broker symbol
// (e.g. "pro.EURUSD" -> "EURUSD.m").
type SymbolMapping struct {
	Source string
	Target string
}

// SlaveConfig is the relay-computed config pushed to a Slave EA: its full
// copy rule set plus the cluster-derived runtime status. Per the merged-
// config decision for N:N membership (see DESIGN.md), a Slave belonging to
// several TradeGroups still receives exactly one SlaveConfig.
type SlaveConfig struct {
	AccountID     string
	MasterAccount string

	LotCalculationMode       string
	LotMultiplier            float64
	ReverseTrade             bool
	SymbolPrefix             string
	SymbolSuffix             string
	SymbolMappings           []SymbolMapping
	AllowedSymbols           []string
	BlockedSymbols           []string
	AllowedMagicNumbers      []int64
	BlockedMagicNumbers      []int64
	SourceLotMin             *float64
	SourceLotMax             *float64
	SyncMode                 string
	LimitOrderExpiryMin      int64
	MarketSyncMaxPips        float64
	MaxSlippage              int64
	MaxRetries               int64
	MaxSignalDelayMs         int64
	UsePendingOrderForDelayed bool
	CopyPendingOrders        bool

	Status        int64
	AllowNewOrders bool
	WarningCodes  []string
	ConfigVersion int64
}

func (c *SlaveConfig) ToMap() map[string]interface{} {
	mappings := make([]interface{}, len(c.SymbolMappings))
	for i, sm := range c.SymbolMappings {
		mappings[i] = map[string]interface{}{"source": sm.Source, "target": sm.Target}
	}
	m := map[string]interface{}{
		"message_type":                  MsgSlaveConfig,
		"account_id":                    c.AccountID,
		"master_account":                c.MasterAccount,
		"lot_calculation_mode":          c.LotCalculationMode,
		"lot_multiplier":                c.LotMultiplier,
		"reverse_trade":                 c.ReverseTrade,
		"symbol_prefix":                 c.SymbolPrefix,
		"symbol_suffix":                 c.SymbolSuffix,
		"symbol_mappings":               mappings,
		"allowed_symbols":               toInterfaceStringSlice(c.AllowedSymbols),
		"blocked_symbols":               toInterfaceStringSlice(c.BlockedSymbols),
		"allowed_magic_numbers":         toInterfaceInt64Slice(c.AllowedMagicNumbers),
		"blocked_magic_numbers":         toInterfaceInt64Slice(c.BlockedMagicNumbers),
		"sync_mode":                     c.SyncMode,
		"limit_order_expiry_min":        c.LimitOrderExpiryMin,
		"market_sync_max_pips":          c.MarketSyncMaxPips,
		"max_slippage":                  c.MaxSlippage,
		"max_retries":                   c.MaxRetries,
		"max_signal_delay_ms":           c.MaxSignalDelayMs,
		"use_pending_order_for_delayed": c.UsePendingOrderForDelayed,
		"copy_pending_orders":           c.CopyPendingOrders,
		"status":                        c.Status,
		"allow_new_orders":              c.AllowNewOrders,
		"warning_codes":                 toInterfaceStringSlice(c.WarningCodes),
		"config_version":                c.ConfigVersion,
	}
	setIfNotNil(m, "source_lot_min", c.SourceLotMin)
	setIfNotNil(m, "source_lot_max", c.SourceLotMax)
	return m
}

func decodeSlaveConfig(m map[string]interface{}) (*SlaveConfig, error) {
	c := &SlaveConfig{}
	var err error
	if c.AccountID, err = requireString(m, "account_id"); err != nil {
		return nil, err
	}
	if c.MasterAccount, err = requireString(m, "master_account"); err != nil {
		return nil, err
	}
	if c.LotCalculationMode, err = requireString(m, "lot_calculation_mode"); err != nil {
		return nil, err
	}
	if c.LotMultiplier, err = requireFloat64(m, "lot_multiplier"); err != nil {
		return nil, err
	}
	if c.ReverseTrade, err = requireBool(m, "reverse_trade"); err != nil {
		return nil, err
	}
	c.SymbolPrefix = stringOr(m, "symbol_prefix", "")
	c.SymbolSuffix = stringOr(m, "symbol_suffix", "")
	if raw, ok := m["symbol_mappings"]; ok {
		arr, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: field %q must be an array", ErrMalformed, "symbol_mappings")
		}
		for _, elem := range arr {
			em, ok := elem.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: symbol mapping entry must be a map", ErrMalformed)
			}
			src, err := requireString(em, "source")
			if err != nil {
				return nil, err
			}
			dst, err := requireString(em, "target")
			if err != nil {
				return nil, err
			}
			c.SymbolMappings = append(c.SymbolMappings, SymbolMapping{Source: src, Target: dst})
		}
	}
	c.AllowedSymbols = stringSlice(m, "allowed_symbols")
	c.BlockedSymbols = stringSlice(m, "blocked_symbols")
	c.AllowedMagicNumbers = int64Slice(m, "allowed_magic_numbers")
	c.BlockedMagicNumbers = int64Slice(m, "blocked_magic_numbers")
	c.SourceLotMin = optFloat64(m, "source_lot_min")
	c.SourceLotMax = optFloat64(m, "source_lot_max")
	if c.SyncMode, err = requireString(m, "sync_mode"); err != nil {
		return nil, err
	}
	if c.LimitOrderExpiryMin, err = requireInt64(m, "limit_order_expiry_min"); err != nil {
		return nil, err
	}
	if c.MarketSyncMaxPips, err = requireFloat64(m, "market_sync_max_pips"); err != nil {
		return nil, err
	}
	if c.MaxSlippage, err = requireInt64(m, "max_slippage"); err != nil {
		return nil, err
	}
	if c.MaxRetries, err = requireInt64(m, "max_retries"); err != nil {
		return nil, err
	}
	if c.MaxSignalDelayMs, err = requireInt64(m, "max_signal_delay_ms"); err != nil {
		return nil, err
	}
	if c.UsePendingOrderForDelayed, err = requireBool(m, "use_pending_order_for_delayed"); err != nil {
		return nil, err
	}
	if c.CopyPendingOrders, err = requireBool(m, "copy_pending_orders"); err != nil {
		return nil, err
	}
	if c.Status, err = requireInt64(m, "status"); err != nil {
		return nil, err
	}
	if c.AllowNewOrders, err = requireBool(m, "allow_new_orders"); err != nil {
		return nil, err
	}
	c.WarningCodes = stringSlice(m, "warning_codes")
	if c.ConfigVersion, err = requireInt64(m, "config_version"); err != nil {
		return nil, err
	}
	return c, nil
}

// VLogsConfig points an EA at the relay's verbose-logging sink, published on
// the global config topic.
type VLogsConfig struct {
	Endpoint string
	Enabled  bool
	LogLevel string
}

func (c *VLogsConfig) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"message_type": MsgVLogsConfig,
		"endpoint":     c.Endpoint,
		"enabled":      c.Enabled,
		"log_level":    c.LogLevel,
	}
}

func decodeVLogsConfig(m map[string]interface{}) (*VLogsConfig, error) {
	c := &VLogsConfig{}
	var err error
	if c.Endpoint, err = requireString(m, "endpoint"); err != nil {
		return nil, err
	}
	if c.Enabled, err = requireBool(m, "enabled"); err != nil {
		return nil, err
	}
	c.LogLevel = stringOr(m, "log_level", "info")
	return c, nil
}

// DecodeMessage dispatches on the payload's message_type field, returning a
// pointer to the matching typed struct (*Heartbeat, *TradeSignal, ...). An
// unknown or missing message_type, or any required field missing for the
// resolved type, yields ErrMalformed (or an error wrapping it) — the caller
// drops the frame and logs rather than treating it as fatal.
func DecodeMessage(fields map[string]interface{}) (interface{}, error) {
	msgType, err := requireString(fields, "message_type")
	if err != nil {
		return nil, err
	}
	switch msgType {
	case MsgHeartbeat:
		return decodeHeartbeat(fields)
	case MsgTradeSignal:
		return decodeTradeSignal(fields)
	case MsgRequestConfig:
		return decodeRequestConfig(fields)
	case MsgUnregister:
		return decodeUnregister(fields)
	case MsgSyncRequest:
		return decodeSyncRequest(fields)
	case MsgPositionSnapshot:
		return decodePositionSnapshot(fields)
	case MsgMasterConfig:
		return decodeMasterConfig(fields)
	case MsgSlaveConfig:
		return decodeSlaveConfig(fields)
	case MsgVLogsConfig:
		return decodeVLogsConfig(fields)
	default:
		return nil, fmt.Errorf("%w: unknown message_type %q", ErrMalformed, msgType)
	}
}
