package httphandlers

type Resource struct {
	Self string `json:"Self"`
}

type Escrow struct {
	Resource
	ID      string `json:"ID"`
	Buyer   string `json:"Buyer"`
	Seller  string `json:"Seller"`
	Arbiter string `json:"Arbiter"`
	Custody string `json:"Custody"`

	Amount      int64  `json:"Amount"`
	Currency    string `json:"Currency"`
	Fee         int64  `json:"Fee"`
	PayeeAmount int64  `json:"PayeeAmount"`

	FundingTxRef string `json:"FundingTxRef,omitempty"`
	SettlementTx string `json:"SettlementTx,omitempty"`

	Status string `json:"Status"`
	State  string `json:"State"`

	PolicyKind         string `json:"PolicyKind"`
	AutoRelease        bool   `json:"AutoRelease"`
	RequiredSignatures int    `json:"RequiredSignatures"`
	ReleaseSignatures  int    `json:"ReleaseSignatures"`
	RefundSignatures   int    `json:"RefundSignatures"`

	Dispute *DisputeInfo `json:"Dispute,omitempty"`

	CreatedAt string `json:"CreatedAt"`
	ExpiresAt string `json:"ExpiresAt"`
	Version   uint64 `json:"Version"`
}

type DisputeInfo struct {
	Initiator string `json:"Initiator"`
	Reason    string `json:"Reason"`
	Outcome   string `json:"Outcome,omitempty"`
	IsOpen    bool   `json:"IsOpen"`
	OpenedAt  string `json:"OpenedAt"`
}

type CreateEscrowRequest struct {
	Buyer   string `json:"Buyer" binding:"required"`
	Seller  string `json:"Seller" binding:"required"`
	Arbiter string `json:"Arbiter"`
	Custody string `json:"Custody" binding:"required"`

	Amount   int64  `json:"Amount" binding:"required"`
	Currency string `json:"Currency" binding:"required"`

	PolicyKind           string  `json:"PolicyKind"`
	TimeDelay            string  `json:"TimeDelay"`
	PerformanceThreshold float64 `json:"PerformanceThreshold"`
	AutoRelease          bool    `json:"AutoRelease"`
	RequiredSignatures   int     `json:"RequiredSignatures"`
	ExpiresAt            string  `json:"ExpiresAt"`
}

type FundRequest struct {
	TxRef  string `json:"TxRef" binding:"required"`
	Amount int64  `json:"Amount" binding:"required"`
}

type RequesterRequest struct {
	Requester string `json:"Requester" binding:"required"`
}

type SignatureRequest struct {
	Signer  string `json:"Signer" binding:"required"`
	Action  string `json:"Action" binding:"required"`
	Payload string `json:"Payload" binding:"required"`
}

type DisputeRequest struct {
	Initiator   string `json:"Initiator" binding:"required"`
	Reason      string `json:"Reason" binding:"required"`
	Description string `json:"Description"`
}

type ResolveRequest struct {
	Resolver     string `json:"Resolver" binding:"required"`
	Outcome      string `json:"Outcome" binding:"required"`
	Notes        string `json:"Notes"`
	RefundAmount int64  `json:"RefundAmount"`
}

type Subscription struct {
	Symbol      string `json:"Symbol"`
	Market      string `json:"Market"`
	Subscribers int    `json:"Subscribers"`
}
