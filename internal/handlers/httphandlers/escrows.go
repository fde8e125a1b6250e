package httphandlers

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/tradevault/settlement-router/internal/escrow"
	"golang.org/x/exp/slices"
)

func (h *HTTPHandler) GetEscrows(ctx *gin.Context) {
	filter := escrow.Filter{}
	if status := ctx.Query("status"); status != "" {
		filter.Statuses = []escrow.Status{escrow.Status(status)}
	}

	escrows, err := h.store.ListEscrows(ctx, filter)
	if err != nil {
		ctx.JSON(500, gin.H{"error": err.Error()})
		return
	}

	data := make([]Escrow, 0, len(escrows))
	for _, esc := range escrows {
		data = append(data, *h.mapEscrow(esc))
	}

	slices.SortStableFunc(data, func(a Escrow, b Escrow) bool {
		return a.ID < b.ID
	})

	ctx.JSON(200, data)
}

func (h *HTTPHandler) GetEscrow(ctx *gin.Context) {
	escrowID := ctx.Param("ID")
	if escrowID == "" {
		ctx.JSON(400, gin.H{"error": "escrow id is required"})
		return
	}

	esc, err := h.store.GetEscrowByID(ctx, escrowID)
	if err != nil {
		if errors.Is(err, escrow.ErrNotFound) {
			ctx.JSON(404, gin.H{"error": "escrow not found"})
			return
		}
		ctx.JSON(500, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(200, h.mapEscrow(esc))
}

func (h *HTTPHandler) CreateEscrow(ctx *gin.Context) {
	var req CreateEscrowRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	params := escrow.CreateParams{
		Buyer:              common.HexToAddress(req.Buyer),
		Seller:             common.HexToAddress(req.Seller),
		Arbiter:            common.HexToAddress(req.Arbiter),
		Custody:            common.HexToAddress(req.Custody),
		Amount:             req.Amount,
		Currency:           req.Currency,
		AutoRelease:        req.AutoRelease,
		RequiredSignatures: req.RequiredSignatures,
	}
	if req.PolicyKind != "" {
		params.Policy = escrow.ReleasePolicy{
			Kind:                 escrow.PolicyKind(req.PolicyKind),
			PerformanceThreshold: req.PerformanceThreshold,
		}
		if req.TimeDelay != "" {
			delay, err := time.ParseDuration(req.TimeDelay)
			if err != nil {
				ctx.JSON(400, gin.H{"error": err.Error()})
				return
			}
			params.Policy.TimeDelay = delay
		}
	}
	if req.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			ctx.JSON(400, gin.H{"error": err.Error()})
			return
		}
		params.ExpiresAt = expiresAt
	}

	esc, err := h.engine.Create(ctx, params)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	ctx.JSON(201, h.mapEscrow(esc))
}

func (h *HTTPHandler) FundEscrow(ctx *gin.Context) {
	var req FundRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	esc, err := h.engine.Fund(ctx, ctx.Param("ID"), escrow.FundingProof{
		TxRef:  req.TxRef,
		Amount: req.Amount,
	})
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	ctx.JSON(200, h.mapEscrow(esc))
}

func (h *HTTPHandler) LockEscrow(ctx *gin.Context) {
	var req RequesterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	esc, err := h.engine.Lock(ctx, ctx.Param("ID"), common.HexToAddress(req.Requester))
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	ctx.JSON(200, h.mapEscrow(esc))
}

func (h *HTTPHandler) ReleaseEscrow(ctx *gin.Context) {
	esc, err := h.engine.Release(ctx, ctx.Param("ID"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(200, h.mapEscrow(esc))
}

func (h *HTTPHandler) RefundEscrow(ctx *gin.Context) {
	esc, err := h.engine.Refund(ctx, ctx.Param("ID"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(200, h.mapEscrow(esc))
}

func (h *HTTPHandler) AddSignature(ctx *gin.Context) {
	var req SignatureRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	payload, err := hex.DecodeString(strings.TrimPrefix(req.Payload, "0x"))
	if err != nil {
		ctx.JSON(400, gin.H{"error": "payload is not valid hex"})
		return
	}

	esc, err := h.tracker.AddSignature(ctx, ctx.Param("ID"), common.HexToAddress(req.Signer), escrow.Action(req.Action), payload)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	ctx.JSON(200, h.mapEscrow(esc))
}

func (h *HTTPHandler) OpenDispute(ctx *gin.Context) {
	var req DisputeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	esc, err := h.engine.OpenDispute(ctx, ctx.Param("ID"), common.HexToAddress(req.Initiator), req.Reason, req.Description)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	ctx.JSON(200, h.mapEscrow(esc))
}

func (h *HTTPHandler) ResolveDispute(ctx *gin.Context) {
	var req ResolveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	esc, err := h.engine.ResolveDispute(ctx, ctx.Param("ID"), common.HexToAddress(req.Resolver), escrow.DisputeOutcome(req.Outcome), req.Notes, req.RefundAmount)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	ctx.JSON(200, h.mapEscrow(esc))
}

func (h *HTTPHandler) writeError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		ctx.JSON(404, gin.H{"error": err.Error()})
	case errors.Is(err, escrow.ErrUnauthorized):
		ctx.JSON(403, gin.H{"error": err.Error()})
	case errors.Is(err, escrow.ErrInvalidStateTransition),
		errors.Is(err, escrow.ErrDisputeAlreadyOpen),
		errors.Is(err, escrow.ErrNoOpenDispute):
		ctx.JSON(409, gin.H{"error": err.Error()})
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrUnsupportedCurrency),
		errors.Is(err, escrow.ErrFundingMismatch),
		errors.Is(err, escrow.ErrDuplicateSignature),
		errors.Is(err, escrow.ErrInvalidSignature):
		ctx.JSON(400, gin.H{"error": err.Error()})
	case errors.Is(err, escrow.ErrSettlementFailed):
		ctx.JSON(502, gin.H{"error": err.Error()})
	default:
		h.log.Errorf("unhandled error: %s", err)
		ctx.JSON(500, gin.H{"error": err.Error()})
	}
}

func (h *HTTPHandler) mapEscrow(esc *escrow.Escrow) *Escrow {
	mapped := &Escrow{
		Resource: Resource{
			Self: h.publicUrl.JoinPath(fmt.Sprintf("/escrows/%s", esc.ID)).String(),
		},
		ID:      esc.ID,
		Buyer:   esc.Buyer.Hex(),
		Seller:  esc.Seller.Hex(),
		Arbiter: esc.Arbiter.Hex(),
		Custody: esc.Custody.Hex(),

		Amount:      esc.Amount,
		Currency:    esc.Currency,
		Fee:         esc.Fee,
		PayeeAmount: esc.PayeeAmount,

		FundingTxRef: esc.FundingTxRef,
		SettlementTx: esc.SettlementTx,

		Status: string(esc.Status),
		State:  string(esc.State),

		PolicyKind:         string(esc.Policy.Kind),
		AutoRelease:        esc.AutoRelease,
		RequiredSignatures: esc.RequiredSignatures,
		ReleaseSignatures:  esc.TotalSignatures(escrow.ActionRelease),
		RefundSignatures:   esc.TotalSignatures(escrow.ActionRefund),

		CreatedAt: formatTime(esc.CreatedAt),
		ExpiresAt: formatTime(esc.ExpiresAt),
		Version:   esc.Version,
	}

	if esc.Dispute != nil {
		mapped.Dispute = &DisputeInfo{
			Initiator: esc.Dispute.Initiator.Hex(),
			Reason:    esc.Dispute.Reason,
			Outcome:   string(esc.Dispute.Outcome),
			IsOpen:    esc.Dispute.IsOpen(),
			OpenedAt:  formatTime(esc.Dispute.OpenedAt),
		}
	}

	return mapped
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
