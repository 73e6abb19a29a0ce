package integration

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testConfig = `
identityBroker:
  url: https://broker.example.com
  token: broker-token
  timeout: 5s
wallet:
  url: https://wallet.example.com
selfDescription:
  url: https://sd.example.com
  token: sd-token
  clearinghouseConnectDisabled: true
callbackBaseUrl: https://portal.example.com/v1
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(testConfig))
	if err != nil {
		t.Fatal(err)
	}
	if want, have := "https://broker.example.com", cfg.IdentityBroker.URL; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if want, have := 5*time.Second, cfg.IdentityBroker.Timeout; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if want, have := DefaultTimeout, cfg.Wallet.Timeout; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if want, have := "sd-token", cfg.SelfDescription.Token; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if !cfg.SelfDescription.ClearinghouseConnectDisabled {
		t.Error("expected clearinghouse connect to be disabled")
	}
	if want, have := "https://portal.example.com/v1", cfg.CallbackBaseURL; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
}

func TestParseConfigUnknownField(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("walet:\n  url: x\n"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParseConfigEmpty(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if want, have := DefaultTimeout, cfg.TechnicalUser.Timeout; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
}

func TestServicesValidate(t *testing.T) {
	s := &Services{}
	err := s.Validate()
	if !errors.Is(err, ErrMissingService) {
		t.Fatalf("want: %v; have: %v", ErrMissingService, err)
	}
	if !strings.Contains(err.Error(), "wallet") {
		t.Errorf("expected wallet in error: %v", err)
	}
}
