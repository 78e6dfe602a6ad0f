package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
)

// InterfaceKind categorizes capture transports.
type InterfaceKind string

const (
	InterfaceKindGlasgow InterfaceKind = "glasgow"
	InterfaceKindFX2     InterfaceKind = "fx2"
	InterfaceKindFile    InterfaceKind = "file"
)

// InterfaceInfo describes a detected capture transport.
type InterfaceInfo struct {
	Kind        InterfaceKind
	Description string
	VendorID    uint16
	ProductID   uint16
	Bus         int
	Address     int
}

// Label returns a user-friendly description for the interface.
func (i InterfaceInfo) Label() string {
	if i.Kind == InterfaceKindFile {
		return i.Description
	}
	if i.Description != "" {
		return fmt.Sprintf("%s (%04X:%04X, bus %d addr %d)", i.Description, i.VendorID, i.ProductID, i.Bus, i.Address)
	}
	return fmt.Sprintf("Interface %04X:%04X", i.VendorID, i.ProductID)
}

// DiscoverInterfaces enumerates connected USB devices that match known
// analyzer VID/PID pairs. It always returns the file transport last so a
// recorded trace can be decoded without hardware.
func DiscoverInterfaces(ctx context.Context) ([]InterfaceInfo, error) {
	var results []InterfaceInfo
	usb := gousb.NewContext()
	defer usb.Close()

	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		if info, ok := classifyUSBDevice(desc); ok {
			results = append(results, info)
		}
		return false
	})
	if err != nil && !errors.Is(err, gousb.ErrorAccess) {
		return results, err
	}

	results = append(results, InterfaceInfo{
		Kind:        InterfaceKindFile,
		Description: "Recorded trace file",
	})
	return results, nil
}

func classifyUSBDevice(desc *gousb.DeviceDesc) (InterfaceInfo, bool) {
	for _, known := range knownDevices {
		if uint16(desc.Vendor) == known.VendorID && uint16(desc.Product) == known.ProductID {
			return InterfaceInfo{
				Kind:        known.Kind,
				Description: known.Description,
				VendorID:    known.VendorID,
				ProductID:   known.ProductID,
				Bus:         desc.Bus,
				Address:     desc.Address,
			}, true
		}
	}
	return InterfaceInfo{}, false
}

type knownUSBDevice struct {
	Kind        InterfaceKind
	VendorID    uint16
	ProductID   uint16
	Description string
}

var knownDevices = []knownUSBDevice{
	{Kind: InterfaceKindGlasgow, VendorID: VendorIDGlasgow, ProductID: ProductIDGlasgow, Description: "Glasgow Interface Explorer"},
	// Unprogrammed FX2 with the stock Cypress bootloader.
	{Kind: InterfaceKindFX2, VendorID: 0x04b4, ProductID: 0x8613, Description: "Cypress FX2 (unconfigured)"},
}
