package crypto

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// usdcUnits is the fixed-point scale of both USDC and outcome tokens.
const usdcUnits = 1_000_000

// OrderSpec is the human-level description of an order before it is turned
// into signed fixed-point amounts.
type OrderSpec struct {
	TokenID       string
	Buy           bool
	Price         float64
	Shares        float64
	Salt          uint64
	Maker         string // funder; empty means the signer itself
	SignatureType int
	FeeRateBps    int
}

// BuildOrderPayload converts spec into the signed order struct. Shares are
// truncated to 2 decimals and the USDC leg to 4 decimals, which is what the
// exchange accepts for marketable orders.
func (s *Signer) BuildOrderPayload(spec OrderSpec) (OrderPayload, error) {
	if spec.Price <= 0 || spec.Price >= 1 {
		return OrderPayload{}, fmt.Errorf("crypto/order: price %.4f out of range (0,1)", spec.Price)
	}
	shares := math.Floor(spec.Shares*100+1e-9) / 100
	if shares <= 0 {
		return OrderPayload{}, fmt.Errorf("crypto/order: share count %.6f rounds to zero", spec.Shares)
	}
	usdc := math.Floor(shares*spec.Price*10_000+1e-9) / 10_000

	shareUnits := toUnits(shares)
	usdcAmt := toUnits(usdc)

	maker := spec.Maker
	if maker == "" {
		maker = s.Address().Hex()
	}

	p := OrderPayload{
		Salt:          strconv.FormatUint(spec.Salt, 10),
		Maker:         maker,
		Signer:        s.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       spec.TokenID,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    strconv.Itoa(spec.FeeRateBps),
		SignatureType: spec.SignatureType,
	}
	if spec.Buy {
		p.Side = 0
		p.MakerAmount, p.TakerAmount = usdcAmt, shareUnits
	} else {
		p.Side = 1
		p.MakerAmount, p.TakerAmount = shareUnits, usdcAmt
	}
	return p, nil
}

func toUnits(v float64) string {
	n := new(big.Int).SetInt64(int64(math.Round(v * usdcUnits)))
	return n.String()
}
