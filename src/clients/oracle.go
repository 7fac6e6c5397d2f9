package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"hotspot-captive-svc/src/internal/config"
	"hotspot-captive-svc/src/internal/models"

	"github.com/sirupsen/logrus"
)

// OracleClient reads voucher state from the ledger gateway fronting the
// WifiRegistry contract. Every lookup is a fresh read, never cached.
type OracleClient struct {
	baseURL         string
	contractAddress string
	httpClient      *http.Client
}

// NewOracleClient creates a new ledger gateway client.
func NewOracleClient(cfg *config.OracleConfig) *OracleClient {
	return &OracleClient{
		baseURL:         cfg.Url,
		contractAddress: cfg.ContractAddress,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

// GetVoucher retrieves the voucher bound to wallet. It distinguishes three
// failure classes: no voucher (models.ErrInvalidVoucher), gateway
// unreachable (models.ErrOracleUnreachable) and an undecodable body
// (models.ErrOracleMalformed).
func (c *OracleClient) GetVoucher(ctx context.Context, wallet string) (*models.VoucherInfo, error) {
	url := fmt.Sprintf("%s/vouchers/%s", c.baseURL, wallet)
	if c.contractAddress != "" {
		url = fmt.Sprintf("%s?contract=%s", url, c.contractAddress)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logrus.WithError(err).WithField("wallet", wallet).Error("Voucher ledger request failed")
		return nil, fmt.Errorf("%w: %v", models.ErrOracleUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, models.ErrInvalidVoucher
	}

	if resp.StatusCode != http.StatusOK {
		logrus.WithFields(logrus.Fields{
			"wallet": wallet,
			"status": resp.StatusCode,
		}).Error("Voucher ledger returned unexpected status")
		return nil, fmt.Errorf("%w: status %d", models.ErrOracleUnreachable, resp.StatusCode)
	}

	var response struct {
		Voucher struct {
			AccessCode string `json:"accessCode"`
			QuotaMB    int64  `json:"quotaMB"`
			Expiry     int64  `json:"expiry"`
			HotspotID  string `json:"hotspotId"`
		} `json:"voucher"`
		Valid bool `json:"valid"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		logrus.WithError(err).WithField("wallet", wallet).Error("Failed to decode voucher ledger response")
		return nil, fmt.Errorf("%w: %v", models.ErrOracleMalformed, err)
	}

	if response.Voucher.AccessCode == "" {
		return nil, models.ErrInvalidVoucher
	}

	return &models.VoucherInfo{
		AccessCode: response.Voucher.AccessCode,
		QuotaMB:    response.Voucher.QuotaMB,
		Expiry:     time.Unix(response.Voucher.Expiry, 0),
		HotspotID:  response.Voucher.HotspotID,
		Valid:      response.Valid,
	}, nil
}
