package api

// Request/response shapes for the REST and WebSocket surface.
// All amounts and prices are integers: base units and quote-per-base-unit.

type CreateBookRequest struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

type AddMakerRequest struct {
	Pair    string `json:"pair"`
	Address string `json:"address"`
	Index   int    `json:"index"`
}

type BalanceRequest struct {
	Pair    string `json:"pair"`
	Address string `json:"address"`
	Slot    int    `json:"slot"`
	Base    int64  `json:"base"`
	Quote   int64  `json:"quote"`
}

type LimitOrderRequest struct {
	Pair    string `json:"pair"`
	Address string `json:"address"`
	Side    string `json:"side"` // "buy" or "sell"
	Amount  int64  `json:"amount"`
	Price   int64  `json:"price"`
	RefID   uint32 `json:"refId"`
	Slot    int    `json:"slot"`
}

type TakeOrderRequest struct {
	Pair    string `json:"pair"`
	Address string `json:"address"`
	Side    string `json:"side"`
	Amount  int64  `json:"amount"` // asset in: quote for a buy, base for a sell
	Bound   int64  `json:"bound"`  // minimum asset out after fees
}

type CancelOrderRequest struct {
	Pair    string `json:"pair"`
	Address string `json:"address"`
	Side    string `json:"side"`
	Index   int    `json:"index"`
	Slot    int    `json:"slot"`
}

type OrderInfo struct {
	Price  int64  `json:"price"`
	Amount int64  `json:"amount"`
	RefID  uint32 `json:"refId"`
	Owner  int    `json:"owner"`
	Seq    uint64 `json:"seq"`
}

type BookSnapshot struct {
	Pair      string      `json:"pair"`
	Bids      []OrderInfo `json:"bids"`
	Asks      []OrderInfo `json:"asks"`
	Timestamp int64       `json:"timestamp"`
}

type BalancesInfo struct {
	Address string `json:"address"`
	Base    int64  `json:"base"`
	Quote   int64  `json:"quote"`
}

type TwapInfo struct {
	Pair      string `json:"pair"`
	Average   int64  `json:"average"`
	LastPrice int64  `json:"lastPrice"`
}

type FillInfo struct {
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
	MakerSlot int    `json:"makerSlot"`
	TakerSlot int    `json:"takerSlot"` // -1 for custody-settled takers
	TakerSide string `json:"takerSide"`
	Time      int64  `json:"time"`
}

type SubmitOrderResponse struct {
	Status string     `json:"status"`
	Fills  []FillInfo `json:"fills"`
}

type OrderIndexResponse struct {
	Index int `json:"index"`
}

type TradeUpdate struct {
	Type      string     `json:"type"` // "trades"
	Pair      string     `json:"pair"`
	Fills     []FillInfo `json:"fills"`
	Timestamp int64      `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}
