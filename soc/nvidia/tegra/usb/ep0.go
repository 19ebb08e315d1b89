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

	"github.com/usbarmory/tamago/internal/reg"
)

// Standard request codes (p279, Table 9-4, USB2.0).
const (
	reqGetStatus        = 0
	reqClearFeature     = 1
	reqSetFeature       = 3
	reqSetAddress       = 5
	reqGetDescriptor    = 6
	reqSetDescriptor    = 7
	reqGetConfiguration = 8
	reqSetConfiguration = 9
	reqGetInterface     = 10
	reqSetInterface     = 11
)

// Descriptor types (p279, Table 9-5, USB2.0).
const (
	descDevice          = 1
	descConfiguration   = 2
	descString          = 3
	descInterface       = 4
	descEndpoint        = 5
	descDeviceQualifier = 6
	descOtherSpeedConf  = 7
)

func (c *Controller) readSetup() SetupData {
	qhAddr := c.qh(0, Out)

	lo := reg.Read(qhAddr + qhSetupBuffer)
	hi := reg.Read(qhAddr + qhSetupBuffer + 4)

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], lo)
	binary.LittleEndian.PutUint32(buf[4:8], hi)

	return getSetup(buf)
}

func (c *Controller) handleSetup() {
	reg.Write(c.setupStat, 1)

	c.flushEndpoint(0, Out)
	c.flushEndpoint(0, In)

	setup := c.readSetup()

	if setup.RequestType&0x60 != 0 {
		// non-standard (class/vendor) request: delegate entirely.
		c.dispatchClassOrVendor(setup)
		return
	}

	var err error

	switch setup.Request {
	case reqGetStatus:
		err = c.tx0([]byte{0, 0})
	case reqClearFeature, reqSetFeature:
		err = c.ack0()
	case reqSetAddress:
		addr := setup.Value & 0x7f
		reg.SetN(c.devAddr, devAddrShift, 0x7f, uint32(addr))
		reg.Set(c.devAddr, devAddrAdvance)
		err = c.ack0()
	case reqGetDescriptor:
		err = c.getDescriptor(setup)
	case reqGetConfiguration:
		err = c.tx0([]byte{c.currentConfig})
	case reqSetConfiguration:
		value := uint8(setup.Value & 0xff)

		if value != c.currentConfig && c.SetConfig != nil {
			if cfgErr := c.SetConfig(value); cfgErr != nil {
				err = cfgErr
				break
			}
		}

		c.currentConfig = value
		err = c.ack0()
	case reqGetInterface:
		err = c.tx0([]byte{0})
	case reqSetInterface:
		err = c.ack0()
	default:
		err = fmt.Errorf("usb: unsupported standard request %#x", setup.Request)
	}

	if err != nil {
		c.Stall(&c.ep0Out)
	}
}

func (c *Controller) dispatchClassOrVendor(setup SetupData) {
	if c.PortSetup == nil {
		c.Stall(&c.ep0Out)
		return
	}

	if err := c.PortSetup(&c.ep0In, &setup); err != nil {
		c.Stall(&c.ep0Out)
	}
}

func (c *Controller) getDescriptor(setup SetupData) error {
	if c.descs == nil {
		if c.hs {
			c.descs = c.HSDescs
		} else {
			c.descs = c.FSDescs
		}
	}

	descType := setup.Value >> 8
	index := setup.Value & 0xff

	switch descType {
	case descDevice:
		return c.tx0(trim(c.descs.Device, setup.Length))
	case descConfiguration:
		return c.tx0(trim(c.descs.Configuration, setup.Length))
	case descString:
		if int(index) >= len(c.descs.Strings) {
			c.Stall(&c.ep0In)
			return fmt.Errorf("usb: invalid string descriptor index %d", index)
		}

		return c.tx0(trim(c.descs.Strings[index], setup.Length))
	case descDeviceQualifier:
		return c.tx0(trim(c.descs.Qualifier, setup.Length))
	default:
		c.Stall(&c.ep0In)
		return fmt.Errorf("usb: unsupported descriptor type %#x", descType)
	}
}

func trim(buf []byte, wLength uint16) []byte {
	if int(wLength) < len(buf) {
		return buf[:wLength]
	}

	return buf
}

// ack0 completes the status stage of a no-data control transfer.
func (c *Controller) ack0() error {
	return c.Submit(&Request{Ep: &c.ep0In, BufferLength: 0})
}

// tx0 sends the data stage of an IN control transfer on EP0.
func (c *Controller) tx0(data []byte) error {
	req := &c.ep0InReq
	req.BufferLength = uint32(len(data))

	if len(data) <= len(req.SmallBuffer) {
		copy(req.SmallBuffer[:], data)
		req.Buffer = nil
	} else {
		req.Buffer = data
	}

	return c.Submit(req)
}
