package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gousb"
)

const (
	// Glasgow Interface Explorer USB identifiers.
	VendorIDGlasgow  = 0x20b7
	ProductIDGlasgow = 0x9db1

	DefaultPacketSize = 512
	DefaultTimeout    = 500 * time.Millisecond
)

// USBStream reads the trace from the bulk IN endpoint of the analyzer's
// vendor interface. It implements io.ReadCloser; Close may be called while a
// Read is in progress.
type USBStream struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	epIn *gousb.InEndpoint

	packetSize int
	timeout    time.Duration

	mu      sync.RWMutex
	readCtx context.Context
	cancel  context.CancelFunc
}

// OpenUSBStream opens the first device matching vid:pid.
func OpenUSBStream(vid, pid uint16) (*USBStream, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("USB error: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("device not found (VID:0x%04X PID:0x%04X)", vid, pid)
	}

	// Not supported on every platform.
	_ = dev.SetAutoDetach(true)

	readCtx, cancel := context.WithCancel(context.Background())
	s := &USBStream{
		ctx:        ctx,
		dev:        dev,
		packetSize: DefaultPacketSize,
		timeout:    DefaultTimeout,
		readCtx:    readCtx,
		cancel:     cancel,
	}
	if err := s.claimInterface(); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

// claimInterface claims the vendor-specific interface and its bulk IN
// endpoint.
func (s *USBStream) claimInterface() error {
	cfg, err := s.dev.Config(1)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	s.cfg = cfg

	vendorIntfNum := 0
	for _, intf := range cfg.Desc.Interfaces {
		if len(intf.AltSettings) > 0 && intf.AltSettings[0].Class == gousb.ClassVendorSpec {
			vendorIntfNum = intf.Number
			break
		}
	}

	intf, err := cfg.Interface(vendorIntfNum, 0)
	if err != nil {
		return fmt.Errorf("failed to claim interface %d: %w", vendorIntfNum, err)
	}
	s.intf = intf

	inAddr := 0
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType == gousb.TransferTypeBulk && ep.Direction == gousb.EndpointDirectionIn {
			inAddr = ep.Number
			s.packetSize = ep.MaxPacketSize
			break
		}
	}
	if inAddr == 0 {
		return errors.New("bulk IN endpoint not found")
	}

	epIn, err := intf.InEndpoint(inAddr)
	if err != nil {
		return fmt.Errorf("failed to open IN endpoint: %w", err)
	}
	s.epIn = epIn
	return nil
}

// PacketSize is the endpoint's maximum packet size. Reads should use a
// multiple of it.
func (s *USBStream) PacketSize() int {
	return s.packetSize
}

// SetTimeout bounds a single bulk transfer. A timed out transfer returns
// no data and no error, so Read can be retried.
func (s *USBStream) SetTimeout(timeout time.Duration) {
	s.timeout = timeout
}

// Read receives up to len(p) bytes. It returns os.ErrClosed once Close has
// been called.
func (s *USBStream) Read(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.epIn == nil || s.readCtx.Err() != nil {
		return 0, os.ErrClosed
	}

	for {
		ctx, cancel := context.WithTimeout(s.readCtx, s.timeout)
		n, err := s.epIn.ReadContext(ctx, p)
		cancel()
		switch {
		case n > 0:
			return n, nil
		case s.readCtx.Err() != nil:
			return 0, os.ErrClosed
		case err == nil, errors.Is(err, context.DeadlineExceeded), errors.Is(err, gousb.TransferTimedOut):
			continue
		default:
			return 0, fmt.Errorf("USB read failed: %w", err)
		}
	}
}

// Close aborts a pending Read and releases the device.
func (s *USBStream) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
	return nil
}

func (s *USBStream) release() {
	s.epIn = nil
	if s.intf != nil {
		s.intf.Close()
		s.intf = nil
	}
	if s.cfg != nil {
		_ = s.cfg.Close()
		s.cfg = nil
	}
	if s.dev != nil {
		_ = s.dev.Close()
		s.dev = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Close()
		s.ctx = nil
	}
}
