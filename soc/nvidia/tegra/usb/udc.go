// NVIDIA Tegra USB device controller driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package usb implements a single-threaded, poll-driven driver for the
// Chipidea/EHCI-style device-mode USB 2.0 controller found on the NVIDIA
// Tegra family (16 endpoint pairs, per-endpoint queue heads in a
// controller-visible MMIO table, per-endpoint transfer descriptors in host
// RAM). It is grounded on the register-level conventions of
// soc/nxp/usb (bus.go, device.go, endpoint.go, endpoint_handler.go,
// setup.go) — the MMIO layout, barrier discipline, and descriptor-vending
// idiom all come from there — but the request model is rewritten: instead
// of a blocking transfer() call and a goroutine per configured endpoint,
// requests are submitted asynchronously and completed from a single Poll
// call, matching this controller's lack of an interrupt handler and its
// single-threaded cooperative scheduling model.
//
// This package is only meant to be used with `GOOS=tamago GOARCH=arm64` as
// supported by the TamaGo framework for bare metal Go, see
// https://github.com/usbarmory/tamago.
package usb

import (
	"fmt"
	"time"

	"github.com/usbarmory/tamago/dma"
	"github.com/usbarmory/tamago/internal/barrier"
	"github.com/usbarmory/tamago/internal/reg"
)

// MaxEndpoints is the number of endpoint numbers the controller exposes
// (EP0 through EP15), per SoC TRM.
const MaxEndpoints = 16

// Direction.
const (
	Out = 0
	In  = 1
)

// Endpoint transfer type.
type EndpointType int

const (
	TypeNone EndpointType = iota
	TypeControl
	TypeIsochronous
	TypeBulk
	TypeInterrupt
)

// MMIO register offsets, relative to the EHCI/UDC base (6.1).
const (
	regUSBCMD      = 0x130
	cmdRun         = 0
	cmdReset       = 1
	cmdSetupTripW  = 13
	cmdITCShift    = 16
	cmdITCDefault  = 8

	regUSBSTS       = 0x134
	stsError        = 1
	stsPortChange   = 2
	stsReset        = 6
	stsSLI          = 8

	regUSBDEVADDR  = 0x144
	devAddrAdvance = 24
	devAddrShift   = 25

	regUSBLISTADR = 0x148

	regUSBDEVLC  = 0x1b4
	devlcSpeedShift = 25
	devlcSpeedMask  = 0b11

	regUSBMODE      = 0x1f8
	usbmodeDevice   = 2

	regEPTSETUPST = 0x208
	regEPTPRIME   = 0x20c
	regEPTFLUSH   = 0x210
	regEPTREADY   = 0x214
	regEPTCOMPLETE = 0x218
	regEPCTRLBase  = 0x21c

	epctrlRXS = 0
	epctrlRXR = 6
	epctrlRXE = 7
	epctrlRXT = 2
	epctrlTXS = 16
	epctrlTXR = 22
	epctrlTXE = 23
	epctrlTXT = 18

	qhTableOffset = 0x1000
	qhStride      = 0x80
	qhInOffset    = 0x40
)

// Queue head field offsets within a 64-byte QH block (3.2, 6.1).
const (
	qhMaxPktLength = 0x00
	qhCurrDtdPtr   = 0x04
	qhNextDtdPtr   = 0x08
	qhToken        = 0x0c
	qhBuffer       = 0x10
	// 4 bytes reserved at 0x24, then an 8-byte setup buffer at 0x28,
	// then 16 bytes reserved at 0x30: total 64.
	qhSetupBuffer = 0x28
)

const (
	mplZLT   = 29
	mplIOS   = 15
	mplShift = 16
	mplMask  = 0x7ff
)

// Token status/length field positions, shared between QH mirror and TD.
const (
	tokStatusMask  = 0xff
	tokStatusHalt  = 1 << 6
	tokStatusBuf   = 1 << 5
	tokStatusTx    = 1 << 3
	tokActive      = 1 << 7
	tokLengthShift = 16
	tokLengthMask  = 0xffff
)

// TDAlignment is the mandatory alignment of every transfer descriptor
// (32-byte, DMA constraint, 4.2).
const TDAlignment = 32

// TDSize is the on-the-wire size of a transfer descriptor in bytes.
const TDSize = 32

// MaxBufferLength is the largest single-TD transfer (5 pages, 4.2).
const MaxBufferLength = 0x5000

const tdPageSize = 0x1000
const tdPages = 5

// TD is the Transfer Descriptor (3.2): 32 bytes, 32-byte aligned,
// DMA-visible, one slot per registered endpoint. It exists as a Go type
// only to size and document the pool the caller allocates; the controller
// never reads or writes through a TD value directly, since the hardware DMA
// engine mutates the descriptor's Token field in physical memory out from
// under any Go-side copy. Instead, field access goes through reg.Read/
// reg.Write at the pool slot's physical address (tdNext/tdToken/tdBuf
// below), the same "token as a register within the DMA buffer" idiom
// soc/nxp/usb's checkDTD uses for its dTD pool.
type TD struct {
	Next  uint32
	Token uint32
	Buf   [5]uint32
	_     uint32
}

// TD field offsets, for direct physical-memory access.
const (
	tdNext  = 0x00
	tdToken = 0x04
	tdBuf   = 0x08
)

const (
	tdNextTerminate = 1
)

// Endpoint identifies a registered non-EP0 endpoint.
type Endpoint struct {
	Num  int
	Dir  int
	Type EndpointType

	enabled bool
}

// Request is a single asynchronous transfer submitted to an endpoint.
// Between Submit and the invocation of Complete the buffer is owned by the
// controller; the caller must not touch it during that window (5. Shared
// resources).
type Request struct {
	Ep *Endpoint

	// Buffer, if non-nil, is the caller-owned transfer buffer. If nil,
	// SmallBuffer is used, sized by BufferLength (up to 64 bytes),
	// avoiding a separate allocation for short transfers.
	Buffer      []byte
	SmallBuffer [64]byte

	// PhysAddr, if non-zero, is a caller-owned physical address (e.g. an
	// LMB allocation) that the controller writes to/reads from directly.
	// Buffer and SmallBuffer are ignored, and no bounce-copy through the
	// default DMA region is performed; the caller retains ownership of
	// the memory both before submission and after completion.
	PhysAddr uint32

	BufferLength uint32
	IODone       uint32
	Error        bool

	// Complete is invoked once: from Poll when the request completes or
	// is failed by a bus reset, or from Cancel when it is cancelled. It
	// must not block.
	Complete func(req *Request)

	dmaAddr uint32
	bounced bool
	slot    int
}

func (r *Request) data() []byte {
	if r.Buffer != nil {
		return r.Buffer[:r.BufferLength]
	}

	return r.SmallBuffer[:r.BufferLength]
}

// SetupData is the 8-byte USB standard control request (6.3, USB2.0 p276).
type SetupData struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// Controller is a Tegra UDC instance.
type Controller struct {
	// Base is the EHCI/UDC MMIO base address (default 0x7d000000, 6.1).
	Base uint32

	cmd, sts, devAddr, listAddr, devlc, mode    uint32
	setupStat, prime, flush, ready, complete    uint32
	epCtrlBase, qhBase                          uint32

	tdPool     []TD
	tdPoolAddr uint32
	tdOwner    []*Endpoint // nil for free slots; ep0Out/ep0In for those

	ep0Out, ep0In Endpoint
	ep0OutReq     Request
	ep0InReq      Request

	eps []*Endpoint

	reqs [2 * MaxEndpoints]*Request

	FSDescs, HSDescs *DeviceDescriptorSet
	descs            *DeviceDescriptorSet
	hs               bool
	currentConfig    uint8

	// PortReset is invoked after a bus reset has been fully acknowledged.
	PortReset func()
	// PortSetup is invoked, with the EP0 IN endpoint, for class and
	// vendor SETUP requests received on EP0; unsupported standard
	// requests are stalled without calling it.
	PortSetup func(ep *Endpoint, setup *SetupData) error
	// SetConfig is invoked when the host selects a new configuration
	// value; returning an error stalls the status stage.
	SetConfig func(value uint8) error
}

// qh returns the MMIO address of endpoint n's queue head (OUT or IN half).
func (c *Controller) qh(n, dir int) uint32 {
	off := uint32(n) * qhStride

	if dir == In {
		off += qhInOffset
	}

	return c.qhBase + off
}

func (c *Controller) epCtrl(n int) uint32 {
	return c.epCtrlBase + uint32(4*n)
}

func slot(n, dir int) int {
	return dir*MaxEndpoints + n
}

// Init binds the controller to its MMIO base, validates and binds the
// caller-supplied TD pool (one TD per EP0 OUT, EP0 IN, and every endpoint in
// eps, 4.2 step 1-2), and brings the controller up in device mode (4.2 step
// 5).
func (c *Controller) Init(eps []*Endpoint, tdPool []TD, tdPoolAddr uint32) error {
	if c.Base == 0 {
		c.Base = 0x7d000000
	}

	c.cmd = c.Base + regUSBCMD
	c.sts = c.Base + regUSBSTS
	c.devAddr = c.Base + regUSBDEVADDR
	c.listAddr = c.Base + regUSBLISTADR
	c.devlc = c.Base + regUSBDEVLC
	c.mode = c.Base + regUSBMODE
	c.setupStat = c.Base + regEPTSETUPST
	c.prime = c.Base + regEPTPRIME
	c.flush = c.Base + regEPTFLUSH
	c.ready = c.Base + regEPTREADY
	c.complete = c.Base + regEPTCOMPLETE
	c.epCtrlBase = c.Base + regEPCTRLBase
	c.qhBase = c.Base + qhTableOffset

	need := 2 + len(eps)

	if len(tdPool) < need {
		return fmt.Errorf("usb: TD pool too small (%d, need %d)", len(tdPool), need)
	}

	if tdPoolAddr%TDAlignment != 0 {
		return fmt.Errorf("usb: BAD_ALIGNMENT, TD pool base %#x not %d-aligned", tdPoolAddr, TDAlignment)
	}

	if uint64(tdPoolAddr)+uint64(len(tdPool))*TDSize > 0x100000000 {
		return fmt.Errorf("usb: BAD_ALIGNMENT, TD pool at %#x exceeds 32-bit physical range", tdPoolAddr)
	}

	c.tdPool = tdPool
	c.tdPoolAddr = tdPoolAddr
	c.tdOwner = make([]*Endpoint, len(tdPool))

	c.ep0Out = Endpoint{Num: 0, Dir: Out, Type: TypeControl}
	c.ep0In = Endpoint{Num: 0, Dir: In, Type: TypeControl}
	c.tdOwner[0] = &c.ep0Out
	c.tdOwner[1] = &c.ep0In

	c.ep0OutReq = Request{Ep: &c.ep0Out}
	c.ep0InReq = Request{Ep: &c.ep0In}

	c.eps = eps

	for i, ep := range eps {
		c.tdOwner[2+i] = ep
	}

	c.hs = false
	c.descs = nil
	c.currentConfig = 0

	for i := range c.reqs {
		c.reqs[i] = nil
	}

	reg.Set(c.cmd, cmdReset)
	reg.Wait(c.cmd, cmdReset, 1, 0)

	reg.SetN(c.mode, 0, 0b11, usbmodeDevice)
	reg.Wait(c.mode, 0, 0b11, usbmodeDevice)

	reg.Write(c.flush, 0xffffffff)

	reg.Write(c.listAddr, c.qhBase)

	reg.Write(c.sts, 0xffffffff)

	reg.SetN(c.cmd, cmdITCShift, 0xff, cmdITCDefault)
	reg.Set(c.cmd, cmdRun)

	return nil
}

// reinit re-runs device controller bring-up in place, using the endpoint set
// and TD pool already bound by Init. Called from Poll on USBSTS_SLI (4.2,
// "Port state machine").
func (c *Controller) reinit() error {
	return c.Init(c.eps, c.tdPool, c.tdPoolAddr)
}

// ConfigurationValue returns the value selected by the host's last
// SET_CONFIGURATION request (0 if unconfigured).
func (c *Controller) ConfigurationValue() uint8 {
	return c.currentConfig
}

// Stop clears the run/stop bit, quiescing the controller so the host sees a
// disconnect. Used before a platform reset so the bus is left in a clean
// state rather than wedged mid-transfer.
func (c *Controller) Stop() {
	reg.Clear(c.cmd, cmdRun)
}

// Speed returns "full" or "high" based on the last negotiated port speed.
func (c *Controller) Speed() string {
	if c.hs {
		return "high"
	}

	return "full"
}

// Enable activates a registered non-EP0 endpoint (4.2, "Endpoint
// enable/disable").
func (c *Controller) Enable(ep *Endpoint) {
	if ep.Num == 0 {
		return
	}

	ctrl := c.epCtrl(ep.Num)
	v := reg.Read(ctrl)

	if ep.Dir == In {
		v |= 1 << epctrlTXE
		v |= 1 << epctrlTXR
		v = (v &^ (0b11 << epctrlTXT)) | (uint32(ep.Type) << epctrlTXT)
	} else {
		v |= 1 << epctrlRXE
		v |= 1 << epctrlRXR
		v = (v &^ (0b11 << epctrlRXT)) | (uint32(ep.Type) << epctrlRXT)
	}

	reg.Write(ctrl, v)
	ep.enabled = true
}

// Disable sets a registered non-EP0 endpoint's direction to EP_TYPE_NONE,
// clearing its enable and type bits.
func (c *Controller) Disable(ep *Endpoint) {
	if ep.Num == 0 {
		return
	}

	ctrl := c.epCtrl(ep.Num)

	if ep.Dir == In {
		reg.Clear(ctrl, epctrlTXE)
		reg.ClearN(ctrl, epctrlTXT, 0b11)
	} else {
		reg.Clear(ctrl, epctrlRXE)
		reg.ClearN(ctrl, epctrlRXT, 0b11)
	}

	ep.enabled = false
}

// Stall forces the endpoint to return a STALL handshake to the host.
func (c *Controller) Stall(ep *Endpoint) {
	ctrl := c.epCtrl(ep.Num)

	reg.Set(ctrl, epctrlRXS)
	reg.Set(ctrl, epctrlTXS)
}

func (c *Controller) flushEndpoint(n, dir int) {
	reg.Set(c.flush, dir*16+n)
	reg.Wait(c.flush, dir*16+n, 1, 0)
}

// maxPacket returns the max packet size for a transfer type at the current
// negotiated speed (4.2, "Max packet is a function of endpoint type and
// speed").
func maxPacket(t EndpointType, hs bool) int {
	switch t {
	case TypeControl:
		return 64
	case TypeBulk:
		if hs {
			return 512
		}
		return 64
	case TypeInterrupt:
		if hs {
			return 1024
		}
		return 64
	case TypeIsochronous:
		if hs {
			return 1024
		}
		return 1023
	default:
		return 64
	}
}

// waitForReset blocks until USBSTS_URI is asserted, with a bound so a
// missing host cannot hang the poll loop forever at bring-up.
func (c *Controller) waitForReset(timeout time.Duration) bool {
	return reg.WaitFor(timeout, c.sts, stsReset, 1, 1)
}
