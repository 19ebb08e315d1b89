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
	"testing"
)

func TestNewDescriptorSetStrings(t *testing.T) {
	d := NewDescriptorSet(true, "NVIDIA", "SHIELD TV", "0")

	if len(d.Strings) != 5 {
		t.Fatalf("expected 5 string descriptors, got %d", len(d.Strings))
	}

	if d.Strings[3] != nil {
		t.Errorf("expected string index 3 to be unused, got %v", d.Strings[3])
	}

	for i, want := range map[int]string{1: "NVIDIA", 2: "SHIELD TV", 4: "0"} {
		got := string(d.Strings[i])

		if len(got) < 2 {
			t.Fatalf("string descriptor %d too short: %v", i, d.Strings[i])
		}

		if int(d.Strings[i][0]) != len(d.Strings[i]) {
			t.Errorf("string descriptor %d length byte mismatch: got %d, bLength %d", i, len(d.Strings[i]), d.Strings[i][0])
		}

		// decode back from UTF-16LE pairs, skipping the 2-byte header
		var decoded []byte
		for j := 2; j < len(d.Strings[i]); j += 2 {
			decoded = append(decoded, d.Strings[i][j])
		}

		if string(decoded) != want {
			t.Errorf("string descriptor %d: got %q, want %q", i, decoded, want)
		}
	}
}

func TestNewDescriptorSetSpeeds(t *testing.T) {
	fs := NewDescriptorSet(false, "A", "B", "C")
	hs := NewDescriptorSet(true, "A", "B", "C")

	if len(fs.Device) != deviceDescLength || len(hs.Device) != deviceDescLength {
		t.Fatalf("unexpected device descriptor length")
	}

	// the only difference between speeds is the endpoint wMaxPacketSize,
	// which lands inside the serialized configuration descriptor.
	if string(fs.Configuration) == string(hs.Configuration) {
		t.Errorf("expected full/high speed configuration descriptors to differ")
	}

	if len(fs.Configuration) != len(hs.Configuration) {
		t.Errorf("expected identical configuration descriptor length across speeds, got %d vs %d", len(fs.Configuration), len(hs.Configuration))
	}
}

func TestNewDescriptorSetDeviceIDs(t *testing.T) {
	d := NewDescriptorSet(true, "A", "B", "C")

	dev := d.Device

	vid := uint16(dev[8]) | uint16(dev[9])<<8
	pid := uint16(dev[10]) | uint16(dev[11])<<8

	if vid != VendorID {
		t.Errorf("got VID %#04x, want %#04x", vid, VendorID)
	}

	if pid != ProductID {
		t.Errorf("got PID %#04x, want %#04x", pid, ProductID)
	}
}
