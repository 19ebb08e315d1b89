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
	"bytes"
	"encoding/binary"
	"unicode/utf16"
)

const (
	deviceDescLength    = 18
	configDescLength    = 9
	interfaceDescLength = 9
	endpointDescLength  = 7
	qualifierDescLength = 10
)

// fastboot interface/endpoint layout (6.2): vendor 0x18d1 ("Google"),
// product 0xd00d, one configuration with a single vendor-specific
// interface (class 0xff, subclass 0x42, protocol 0x03) and two bulk
// endpoints (EP1 OUT, EP1 IN).
const (
	VendorID  = 0x18d1
	ProductID = 0xd00d

	fastbootClass    = 0xff
	fastbootSubClass = 0x42
	fastbootProtocol = 0x03

	bulkMaxPacketHS = 0x0200
	bulkMaxPacketFS = 0x0040
)

type deviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	BcdUSB            uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize     uint8
	VendorID          uint16
	ProductID         uint16
	Device            uint16
	Manufacturer      uint8
	Product           uint8
	SerialNumber      uint8
	NumConfigurations uint8
}

func (d *deviceDescriptor) bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

type configDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	Configuration      uint8
	Attributes         uint8
	MaxPower           uint8
}

func (d *configDescriptor) bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

type interfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	Interface         uint8
}

func (d *interfaceDescriptor) bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

type endpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

func (d *endpointDescriptor) bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// DeviceDescriptorSet holds the pre-serialized descriptor tables vended to
// EP0 GET_DESCRIPTOR requests, for one negotiated speed.
type DeviceDescriptorSet struct {
	Device        []byte
	Configuration []byte
	Qualifier     []byte
	Strings       [][]byte
}

func stringDescriptor(s string) []byte {
	u := utf16.Encode([]rune(s))

	buf := []byte{0, descString}

	for _, r := range u {
		buf = append(buf, byte(r), byte(r>>8))
	}

	buf[0] = uint8(len(buf))

	return buf
}

// NewDescriptorSet builds the fastboot device/configuration/string tables
// for one negotiated speed (6.2). Index 0 is the language ID string
// descriptor (US English); index 1 is manufacturer, 2 is product, 4 is a
// default/generic string (index 3 is unused).
func NewDescriptorSet(hs bool, manufacturer, product, deflt string) *DeviceDescriptorSet {
	maxPacket := uint16(bulkMaxPacketFS)
	if hs {
		maxPacket = bulkMaxPacketHS
	}

	dev := &deviceDescriptor{
		Length:            deviceDescLength,
		DescriptorType:    descDevice,
		BcdUSB:            0x0200,
		MaxPacketSize:     64,
		VendorID:          VendorID,
		ProductID:         ProductID,
		Manufacturer:      1,
		Product:           2,
		SerialNumber:      4,
		NumConfigurations: 1,
	}

	iface := &interfaceDescriptor{
		Length:            interfaceDescLength,
		DescriptorType:    descInterface,
		NumEndpoints:      2,
		InterfaceClass:    fastbootClass,
		InterfaceSubClass: fastbootSubClass,
		InterfaceProtocol: fastbootProtocol,
	}

	epOut := &endpointDescriptor{
		Length:          endpointDescLength,
		DescriptorType:  descEndpoint,
		EndpointAddress: 0x01,
		Attributes:      0x02, // bulk
		MaxPacketSize:   maxPacket,
	}

	epIn := &endpointDescriptor{
		Length:          endpointDescLength,
		DescriptorType:  descEndpoint,
		EndpointAddress: 0x81,
		Attributes:      0x02, // bulk
		MaxPacketSize:   maxPacket,
	}

	var conf bytes.Buffer
	conf.Write(iface.bytes())
	conf.Write(epOut.bytes())
	conf.Write(epIn.bytes())

	cfg := &configDescriptor{
		Length:             configDescLength,
		DescriptorType:     descConfiguration,
		TotalLength:        uint16(configDescLength + conf.Len()),
		NumInterfaces:      1,
		ConfigurationValue: 1,
		Attributes:         0xc0,
		MaxPower:           250,
	}

	var full bytes.Buffer
	full.Write(cfg.bytes())
	full.Write(conf.Bytes())

	qual := &struct {
		Length            uint8
		DescriptorType    uint8
		BcdUSB            uint16
		DeviceClass       uint8
		DeviceSubClass    uint8
		DeviceProtocol    uint8
		MaxPacketSize     uint8
		NumConfigurations uint8
		Reserved          uint8
	}{
		Length:            qualifierDescLength,
		DescriptorType:    descDeviceQualifier,
		BcdUSB:            0x0200,
		MaxPacketSize:     64,
		NumConfigurations: 1,
	}

	qbuf := new(bytes.Buffer)
	binary.Write(qbuf, binary.LittleEndian, qual)

	return &DeviceDescriptorSet{
		Device:        dev.bytes(),
		Configuration: full.Bytes(),
		Qualifier:     qbuf.Bytes(),
		Strings: [][]byte{
			{4, descString, 0x09, 0x04}, // langid 0: en-US
			stringDescriptor(manufacturer),
			stringDescriptor(product),
			nil, // index 3 unused
			stringDescriptor(deflt),
		},
	}
}
