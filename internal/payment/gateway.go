package payment

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/shopspring/decimal"
	"github.com/smartwalle/alipay/v3"
)

const (
	// close of a trade the gateway never saw
	subCodeTradeNotExist = "ACQ.TRADE_NOT_EXIST"
	productCode          = "FAST_INSTANT_TRADE_PAY"
)

// Channel is the external payment gateway.
type Channel interface {
	// Create opens a trade for outTradeNo and returns the redirect artifact.
	Create(ctx context.Context, req PayRequest) (ChannelResult, error)
	// Cancel closes the trade; closing an unknown trade succeeds.
	Cancel(ctx context.Context, outTradeNo string) error
}

type PayRequest struct {
	OutTradeNo  string
	TotalAmount decimal.Decimal
	Subject     string
}

type ChannelResult struct {
	// TradeNo is empty for page-pay; the gateway assigns it on payment and
	// reports it in the notify.
	TradeNo string
	// PayURL is the signed page-pay link attached to the order.
	PayURL string
}

// tradeAPI is the part of *alipay.Client the gateway drives.
type tradeAPI interface {
	TradePagePay(param alipay.TradePagePay) (*url.URL, error)
	TradeClose(ctx context.Context, param alipay.TradeClose) (*alipay.TradeCloseRsp, error)
	VerifySign(ctx context.Context, values url.Values) error
}

var _ tradeAPI = (*alipay.Client)(nil)

type GatewayConfig struct {
	AppID string
	// PrivateKey signs requests (PKCS1 or PKCS8, PEM or bare base64).
	PrivateKey string
	// PublicKey is the gateway's key used to verify notifies.
	PublicKey  string
	Production bool
	NotifyURL  string
	ReturnURL  string
	Timeout    time.Duration
}

// Gateway adapts the alipay SDK to Channel and Verifier.
type Gateway struct {
	api tradeAPI
	cfg GatewayConfig
}

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	c, err := alipay.New(cfg.AppID, cfg.PrivateKey, cfg.Production)
	if err != nil {
		return nil, fmt.Errorf("gateway private key: %w", err)
	}
	if err := c.LoadAliPayPublicKey(cfg.PublicKey); err != nil {
		return nil, fmt.Errorf("gateway public key: %w", err)
	}
	return &Gateway{api: c, cfg: cfg}, nil
}

// Create builds the signed page-pay URL. No request leaves the process.
func (g *Gateway) Create(_ context.Context, req PayRequest) (ChannelResult, error) {
	var p alipay.TradePagePay
	p.NotifyURL = g.cfg.NotifyURL
	p.ReturnURL = g.cfg.ReturnURL
	p.OutTradeNo = req.OutTradeNo
	p.TotalAmount = req.TotalAmount.StringFixed(2)
	p.Subject = req.Subject
	p.ProductCode = productCode

	u, err := g.api.TradePagePay(p)
	if err != nil {
		return ChannelResult{}, apperr.Wrap(apperr.KindChannel, err, "page-pay "+req.OutTradeNo)
	}
	return ChannelResult{PayURL: u.String()}, nil
}

func (g *Gateway) Cancel(ctx context.Context, outTradeNo string) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	rsp, err := g.api.TradeClose(ctx, alipay.TradeClose{OutTradeNo: outTradeNo})
	if rsp != nil && rsp.SubCode == subCodeTradeNotExist {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.KindChannel, err, "close "+outTradeNo)
	}
	if rsp.IsFailure() {
		return apperr.New(apperr.KindChannel, "close %s: %s %s", outTradeNo, rsp.SubCode, rsp.SubMsg)
	}
	return nil
}

func (g *Gateway) Verify(ctx context.Context, form url.Values) error {
	if form.Get("sign") == "" {
		return ErrBadSignature
	}
	if err := g.api.VerifySign(ctx, form); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

var (
	_ Channel  = (*Gateway)(nil)
	_ Verifier = (*Gateway)(nil)
)
