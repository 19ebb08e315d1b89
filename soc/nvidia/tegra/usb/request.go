// NVIDIA Tegra USB device controller driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import (
	"encoding/binary"
	"fmt"

	"github.com/usbarmory/tamago/dma"
	"github.com/usbarmory/tamago/internal/barrier"
	"github.com/usbarmory/tamago/internal/reg"
)

// tdSlot returns the pool index bound to ep's TD, or -1 if ep is not
// registered (ep0 is always slots 0/1).
func (c *Controller) tdSlot(ep *Endpoint) int {
	if ep == &c.ep0Out {
		return 0
	}

	if ep == &c.ep0In {
		return 1
	}

	for i, owner := range c.tdOwner {
		if owner == ep {
			return i
		}
	}

	return -1
}

// Submit primes req on its endpoint. Only one request may be outstanding per
// (endpoint, direction) at a time (5, "Shared resources"); Submit returns an
// error if the slot is occupied. req.Complete is invoked exactly once: from a
// future Poll call, or from Cancel if the request is withdrawn first.
func (c *Controller) Submit(req *Request) error {
	ep := req.Ep

	if ep == nil {
		return fmt.Errorf("usb: request has no endpoint")
	}

	if req.BufferLength > MaxBufferLength {
		return fmt.Errorf("usb: request length %d exceeds %d", req.BufferLength, MaxBufferLength)
	}

	s := slot(ep.Num, ep.Dir)

	if c.reqs[s] != nil {
		return fmt.Errorf("usb: endpoint %d.%d already has a request in flight", ep.Num, ep.Dir)
	}

	ti := c.tdSlot(ep)

	if ti < 0 {
		return fmt.Errorf("usb: endpoint %d.%d is not registered", ep.Num, ep.Dir)
	}

	c.flushEndpoint(ep.Num, ep.Dir)

	var addr uint

	if req.PhysAddr != 0 {
		addr = uint(req.PhysAddr)
		req.bounced = false
	} else if data := req.data(); len(data) > 0 {
		addr = dma.Alloc(data, tdPageSize)
		req.bounced = true
	} else {
		req.bounced = false
	}

	req.dmaAddr = uint32(addr)
	req.slot = s
	req.Error = false
	req.IODone = 0

	tdAddr := c.tdPoolAddr + uint32(ti)*TDSize

	off := uint32(addr) % tdPageSize
	var buf [tdPages]uint32

	for i := 0; i < tdPages && uint32(i)*tdPageSize < off+req.BufferLength; i++ {
		page := (uint32(addr) &^ (tdPageSize - 1)) + uint32(i)*tdPageSize
		buf[i] = page

		if i == 0 {
			buf[0] = uint32(addr)
		}
	}

	reg.Write(tdAddr+tdNext, tdNextTerminate)
	reg.Write(tdAddr+tdToken, (uint32(req.BufferLength)<<tokLengthShift)|tokActive)

	for i := 0; i < tdPages; i++ {
		reg.Write(tdAddr+uint32(tdBuf)+uint32(i*4), buf[i])
	}

	qhAddr := c.qh(ep.Num, ep.Dir)

	mpl := uint32(maxPacket(ep.Type, c.hs))<<mplShift | 1<<mplZLT
	if ep.Num == 0 && ep.Dir == Out {
		mpl |= 1 << mplIOS
	}

	reg.Write(qhAddr+qhMaxPktLength, mpl)
	reg.Write(qhAddr+qhCurrDtdPtr, tdNextTerminate)
	reg.Write(qhAddr+qhNextDtdPtr, tdAddr)
	reg.Write(qhAddr+qhToken, 0)

	barrier.Store()

	c.reqs[s] = req

	reg.Set(c.prime, ep.Dir*16+ep.Num)

	return nil
}

// Cancel withdraws a previously submitted, not-yet-completed request from
// its endpoint, flushing the endpoint so the controller drops the primed
// TD. req.Complete is still invoked, synchronously from within Cancel, with
// req.Error set.
func (c *Controller) Cancel(req *Request) {
	ep := req.Ep

	if ep == nil {
		return
	}

	s := slot(ep.Num, ep.Dir)

	if c.reqs[s] != req {
		return
	}

	c.flushEndpoint(ep.Num, ep.Dir)

	req.Error = true
	c.complete_(req)
}

func (c *Controller) complete_(req *Request) {
	ep := req.Ep
	s := slot(ep.Num, ep.Dir)

	c.reqs[s] = nil

	if req.bounced && req.dmaAddr != 0 {
		if ep.Dir == Out && !req.Error {
			dma.Read(uint(req.dmaAddr), 0, req.data())
		}

		dma.Free(uint(req.dmaAddr))
	}

	req.dmaAddr = 0

	if req.Complete != nil {
		req.Complete(req)
	}
}

// pollEndpoint checks the completion status of any in-flight request on one
// (endpoint, direction) slot, completing it if the controller is done.
func (c *Controller) pollEndpoint(n, dir int) {
	s := slot(n, dir)
	req := c.reqs[s]

	if req == nil {
		return
	}

	if reg.Get(c.complete, dir*16+n, 1) == 0 {
		return
	}

	reg.Set(c.complete, dir*16+n)

	barrier.Load()

	ti := c.tdSlot(req.Ep)
	tdAddr := c.tdPoolAddr + uint32(ti)*TDSize
	token := reg.Read(tdAddr + tdToken)

	status := token & tokStatusMask
	req.Error = status&(tokStatusHalt|tokStatusBuf|tokStatusTx) != 0
	req.IODone = req.BufferLength - ((token >> tokLengthShift) & tokLengthMask)

	c.complete_(req)
}

// Poll drains completed transfers and runs the port/EP0 state machine. It is
// non-blocking and must be called repeatedly from the application's main
// loop (there is no interrupt handler, 4.2/9). A non-nil error reports a
// USBSTS condition the caller should log; the poll loop is otherwise
// self-healing and should keep calling Poll regardless (7.2).
func (c *Controller) Poll() error {
	var err error

	sts := reg.Read(c.sts)

	if sts&(1<<stsReset) != 0 {
		reg.Write(c.sts, 1<<stsReset)
		c.handleReset()
	}

	if sts&(1<<stsPortChange) != 0 {
		reg.Write(c.sts, 1<<stsPortChange)

		// USBDEVLC port speed: 0b00 full, 0b01 low, 0b10 high (4.2,
		// soc/nxp/usb/bus.go:242-248).
		switch reg.Get(c.devlc, devlcSpeedShift, devlcSpeedMask) {
		case 2:
			c.hs = true
			c.descs = c.HSDescs
		case 0:
			c.hs = false
			c.descs = c.FSDescs
		default:
			err = fmt.Errorf("usb: low-speed port negotiation is not supported")
		}
	}

	if sts&(1<<stsSLI) != 0 {
		// Suspend: this controller has no remote-wakeup support, so
		// the port state machine re-runs device bring-up from
		// scratch rather than attempting a resume handshake (4.2,
		// "Port state machine").
		reg.Write(c.sts, 1<<stsSLI)
		return c.reinit()
	}

	if unhandled := sts &^ (1<<stsReset | 1<<stsPortChange | 1<<stsSLI); unhandled != 0 {
		reg.Write(c.sts, unhandled)

		if err == nil {
			err = fmt.Errorf("usb: unhandled USBSTS bits %#x", unhandled)
		}
	}

	// completions are drained in ascending slot order (OUT 0..15, then
	// IN 0..15), before any new SETUP packet is handled.
	for s := range c.reqs {
		n, dir := s%MaxEndpoints, s/MaxEndpoints

		if req := c.reqs[s]; req != nil && (n == 0 || req.Ep.enabled) {
			c.pollEndpoint(n, dir)
		}
	}

	if reg.Get(c.setupStat, 0, 1) == 1 {
		c.handleSetup()
	}

	return err
}

func (c *Controller) handleReset() {
	reg.Write(c.setupStat, reg.Read(c.setupStat))
	reg.Write(c.complete, reg.Read(c.complete))
	reg.Write(c.flush, 0xffffffff)

	reg.Write(c.devAddr, 0)

	for i := range c.reqs {
		if req := c.reqs[i]; req != nil {
			req.Error = true
			c.complete_(req)
		}
	}

	for _, ep := range c.eps {
		c.Disable(ep)
	}

	c.currentConfig = 0

	if c.PortReset != nil {
		c.PortReset()
	}
}

func getSetup(buf [8]byte) SetupData {
	return SetupData{
		RequestType: buf[0],
		Request:     buf[1],
		Value:       binary.LittleEndian.Uint16(buf[2:4]),
		Index:       binary.LittleEndian.Uint16(buf[4:6]),
		Length:      binary.LittleEndian.Uint16(buf[6:8]),
	}
}
