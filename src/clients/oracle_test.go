package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hotspot-captive-svc/src/internal/config"
	"hotspot-captive-svc/src/internal/models"
)

func oracleFor(serverURL string) *OracleClient {
	return NewOracleClient(&config.OracleConfig{
		Url:             serverURL,
		ContractAddress: "0xcontract",
		Timeout:         2,
	})
}

func TestGetVoucher_Success(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Unix()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vouchers/0xwallet" {
			t.Errorf("path = %q, want /vouchers/0xwallet", r.URL.Path)
		}
		if r.URL.Query().Get("contract") != "0xcontract" {
			t.Errorf("contract = %q, want 0xcontract", r.URL.Query().Get("contract"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"voucher":{"accessCode":"ABC123","quotaMB":500,"expiry":%d,"hotspotId":"hotspot-7"},"valid":true}`, expiry)
	}))
	defer server.Close()

	voucher, err := oracleFor(server.URL).GetVoucher(context.Background(), "0xwallet")
	if err != nil {
		t.Fatalf("GetVoucher failed: %v", err)
	}
	if voucher.AccessCode != "ABC123" || voucher.QuotaMB != 500 || voucher.HotspotID != "hotspot-7" {
		t.Errorf("voucher = %+v", voucher)
	}
	if !voucher.Valid {
		t.Error("voucher should be valid")
	}
	if voucher.Expiry.Unix() != expiry {
		t.Errorf("expiry = %v, want unix %d", voucher.Expiry, expiry)
	}
}

func TestGetVoucher_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := oracleFor(server.URL).GetVoucher(context.Background(), "0xwallet")
	if !errors.Is(err, models.ErrInvalidVoucher) {
		t.Fatalf("err = %v, want ErrInvalidVoucher", err)
	}
}

func TestGetVoucher_EmptyAccessCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"voucher":{"accessCode":"","quotaMB":0,"expiry":0},"valid":true}`)
	}))
	defer server.Close()

	_, err := oracleFor(server.URL).GetVoucher(context.Background(), "0xwallet")
	if !errors.Is(err, models.ErrInvalidVoucher) {
		t.Fatalf("err = %v, want ErrInvalidVoucher", err)
	}
}

func TestGetVoucher_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := oracleFor(server.URL).GetVoucher(context.Background(), "0xwallet")
	if !errors.Is(err, models.ErrOracleUnreachable) {
		t.Fatalf("err = %v, want ErrOracleUnreachable", err)
	}
}

func TestGetVoucher_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	_, err := oracleFor(server.URL).GetVoucher(context.Background(), "0xwallet")
	if !errors.Is(err, models.ErrOracleUnreachable) {
		t.Fatalf("err = %v, want ErrOracleUnreachable", err)
	}
}

func TestGetVoucher_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"voucher": not json`)
	}))
	defer server.Close()

	_, err := oracleFor(server.URL).GetVoucher(context.Background(), "0xwallet")
	if !errors.Is(err, models.ErrOracleMalformed) {
		t.Fatalf("err = %v, want ErrOracleMalformed", err)
	}
}

func TestGetVoucher_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := oracleFor(server.URL).GetVoucher(ctx, "0xwallet")
	if !errors.Is(err, models.ErrOracleUnreachable) {
		t.Fatalf("err = %v, want ErrOracleUnreachable", err)
	}
}
