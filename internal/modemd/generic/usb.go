package generic

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SysfsTTY is the sysfs class directory serial devices are resolved in.
var SysfsTTY = "/sys/class/tty"

// USBID identifies the USB device a serial port belongs to.
type USBID struct {
	Vendor  string `json:"vendor"`
	Product string `json:"product"`
}

func (u USBID) String() string { return u.Vendor + ":" + u.Product }

// LookupUSBID finds the USB vendor:product IDs for a serial device.
// Maps /dev/ttyUSB2 -> 2c7c:0125 by following sysfs symlinks.
func LookupUSBID(serialDevice string) (USBID, error) {
	devName := filepath.Base(serialDevice)

	// /sys/class/tty/ttyUSB2/device -> ../../../1-1:1.2/ttyUSB2
	devicePath := filepath.Join(SysfsTTY, devName, "device")
	resolved, err := filepath.EvalSymlinks(devicePath)
	if err != nil {
		return USBID{}, fmt.Errorf("failed to resolve device path: %w", err)
	}

	// Walk up to the USB device directory that carries idVendor
	for dir := resolved; dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		vendor, err := os.ReadFile(filepath.Join(dir, "idVendor"))
		if err != nil {
			continue
		}
		product, err := os.ReadFile(filepath.Join(dir, "idProduct"))
		if err != nil {
			return USBID{}, fmt.Errorf("found idVendor but not idProduct in %s", dir)
		}
		return USBID{
			Vendor:  strings.TrimSpace(string(vendor)),
			Product: strings.TrimSpace(string(product)),
		}, nil
	}

	return USBID{}, fmt.Errorf("USB device IDs not found for %s", serialDevice)
}
