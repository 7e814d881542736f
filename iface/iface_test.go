package iface_test

import (
	"testing"

	"github.com/srtlabond/bond/iface"
)

func TestHandleNameReturnsIfaceName(t *testing.T) {
	h := iface.Handle{IfaceName: "wlan0"}
	if h.Name() != "wlan0" {
		t.Errorf("Name() = %q, want wlan0", h.Name())
	}
}
