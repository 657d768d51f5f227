package polymarket

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/copybot/internal/crypto"
	"github.com/alanyoungcy/copybot/internal/domain"
)

// OrderGateway signs submissions and posts them to the CLOB. It is the
// venue boundary of the order executor: every failure it returns is a
// *domain.Fault.
type OrderGateway struct {
	clob          *ClobClient
	funder        string
	signatureType int
}

// NewOrderGateway creates a gateway. funder is the proxy/safe wallet that
// holds the funds; empty means the signer's own address.
func NewOrderGateway(clob *ClobClient, funder string, signatureType int) *OrderGateway {
	return &OrderGateway{clob: clob, funder: funder, signatureType: signatureType}
}

// Submit signs and posts one order.
func (g *OrderGateway) Submit(ctx context.Context, sub domain.Submission) (domain.OrderResponse, error) {
	signer := g.clob.Signer()
	if signer == nil || !g.clob.Ready() {
		return domain.OrderResponse{}, domain.NewFault(domain.FaultNotReady, "signer or API credentials unavailable")
	}

	payload, err := signer.BuildOrderPayload(crypto.OrderSpec{
		TokenID:       sub.InstrumentID,
		Buy:           sub.Side == domain.OrderSideBuy,
		Price:         sub.Price,
		Shares:        sub.Shares,
		Salt:          sub.Nonce,
		Maker:         g.funder,
		SignatureType: g.signatureType,
	})
	if err != nil {
		return domain.OrderResponse{}, domain.NewFault(domain.FaultUnknown, err.Error())
	}
	sig, err := signer.SignOrder(payload, sub.NegRisk)
	if err != nil {
		return domain.OrderResponse{}, &domain.Fault{Kind: domain.FaultNotReady, Message: "signing failed", Err: err}
	}

	res, err := g.clob.PostOrder(ctx, payload, sig, sub.Type)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	resp := domain.OrderResponse{
		Success: true,
		OrderID: res.OrderID,
		Status:  res.Status,
		Price:   sub.Price,
	}
	making, _ := strconv.ParseFloat(res.MakingAmount, 64)
	taking, _ := strconv.ParseFloat(res.TakingAmount, 64)
	if sub.Side == domain.OrderSideBuy {
		resp.Notional, resp.Shares = making, taking
	} else {
		resp.Shares, resp.Notional = making, taking
	}
	if resp.Shares == 0 {
		resp.Shares = sub.Shares
		resp.Notional = sub.Shares * sub.Price
	}
	if resp.Shares > 0 {
		resp.Price = resp.Notional / resp.Shares
	}
	return resp, nil
}

// String identifies the gateway in logs.
func (g *OrderGateway) String() string {
	return fmt.Sprintf("OrderGateway{funder=%s, sigType=%d}", g.funder, g.signatureType)
}
