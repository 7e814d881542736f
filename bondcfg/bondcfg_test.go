package bondcfg_test

import (
	"testing"

	"github.com/srtlabond/bond/bondcfg"
)

func TestValidateRejectsMissingHost(t *testing.T) {
	c := &bondcfg.Config{ServerPort: 5000, LocalPort: 6000}
	if err := c.Validate(); err == nil {
		t.Error("expected an error for a missing server host")
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	c := &bondcfg.Config{ServerHost: "relay.example.com", ServerPort: 70000, LocalPort: 6000}
	if err := c.Validate(); err == nil {
		t.Error("expected an error for a server port above 65535")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	c := &bondcfg.Config{ServerHost: "relay.example.com", ServerPort: 5000, LocalPort: 6000}
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
