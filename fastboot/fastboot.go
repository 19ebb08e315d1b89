// Fastboot command server
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package fastboot implements a fastboot-protocol command server running
// over a single bulk endpoint pair of a usb.Controller. It is grounded on
// the fb.c reference implementation's state machine (rx/dispatch/reply
// cycle, in_command cancellation discipline, chained peek/download
// completions) adapted to this module's poll-driven, callback-based
// request model (soc/nvidia/tegra/usb).
package fastboot

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/usbarmory/tamago/internal/reg"
	"github.com/usbarmory/tamago/lmb"
	"github.com/usbarmory/tamago/soc/nvidia/tegra/usb"
)

const endpointNumber = 1

// Reboot type values (6.3, "oem reboot").
const (
	RebootNormal     uint32 = 0
	RebootBootloader uint32 = 1
	RebootRCM        uint32 = 2
	RebootRecovery   uint32 = 3
)

// androidBootMagic is the 8-byte Android boot image header signature.
const androidBootMagic = "ANDROID!"

// androidPageSizeOffset is the byte offset of the 32-bit page_size field in
// the Android boot image header.
const androidPageSizeOffset = 36

// Server is a fastboot command server bound to EP1 OUT/IN of a UDC.
type Server struct {
	UDC *usb.Controller
	LMB *lmb.LMB

	// Reboot triggers a platform reset with the given mode/value. It is
	// invoked once the final reply has reached the host.
	Reboot func(mode uint32)

	// SMC invokes a platform SMC64 trampoline, overwriting inout with
	// the call's return registers.
	SMC func(inout *[8]uint64)

	// Jump transfers control to a loaded payload at addr, passing fdt as
	// the first argument. It never returns.
	Jump func(addr, fdt uint32)

	// FDT is the physical address passed to Jump.
	FDT uint32

	epOut, epIn   usb.Endpoint
	outReq, inReq usb.Request

	inCommand bool

	peek *peekState
	dl   *downloadState
}

type peekState struct {
	addr   uint64
	access int
	ascii  bool
	items  int
}

type downloadState struct {
	addr      uint32
	size      uint32
	remaining uint32
	loaded    bool
}

// NewServer wires a fastboot server to udc; call Endpoints to register the
// returned endpoints with the controller before usb.Controller.Init.
func NewServer(udc *usb.Controller, l *lmb.LMB) *Server {
	s := &Server{UDC: udc, LMB: l}

	s.epOut = usb.Endpoint{Num: endpointNumber, Dir: usb.Out, Type: usb.TypeBulk}
	s.epIn = usb.Endpoint{Num: endpointNumber, Dir: usb.In, Type: usb.TypeBulk}

	s.outReq.Ep = &s.epOut
	s.inReq.Ep = &s.epIn

	udc.SetConfig = s.setConfig

	return s
}

// Endpoints returns the endpoints this server owns, for registration with
// usb.Controller.Init.
func (s *Server) Endpoints() []*usb.Endpoint {
	return []*usb.Endpoint{&s.epOut, &s.epIn}
}

func (s *Server) setConfig(value uint8) error {
	if value > 1 {
		return fmt.Errorf("fastboot: unsupported configuration %d", value)
	}

	if value == 1 {
		s.UDC.Enable(&s.epOut)
		s.UDC.Enable(&s.epIn)
		s.rxCommand()
	} else {
		s.UDC.Disable(&s.epOut)
		s.UDC.Disable(&s.epIn)
		s.inCommand = false
		s.UDC.Cancel(&s.inReq)
		s.UDC.Cancel(&s.outReq)
	}

	return nil
}

func (s *Server) rxCommand() {
	s.outReq.Buffer = nil
	s.outReq.BufferLength = uint32(len(s.outReq.SmallBuffer))
	s.outReq.Complete = s.rxCommandComplete
	s.UDC.Submit(&s.outReq)
}

func (s *Server) rxCommandComplete(req *usb.Request) {
	if req.Error {
		return
	}

	// resubmit immediately so commands can pipeline while this one is
	// dispatched (4.3, state machine step 2).
	if s.UDC.ConfigurationValue() != 0 {
		s.rxCommand()
	}

	if s.inCommand {
		// the host has already moved on; drop our stale pending reply.
		s.inCommand = false
		s.UDC.Cancel(&s.inReq)
	}

	s.inCommand = true

	cmd := strings.TrimRight(string(req.SmallBuffer[:req.IODone]), "\x00")

	if status := s.dispatch(cmd); status != "" {
		s.endCommand(status)
	}
}

func (s *Server) dispatch(cmd string) string {
	switch {
	case cmd == "reboot":
		return s.cmdReboot(RebootNormal)
	case cmd == "reboot-bootloader":
		return s.cmdReboot(RebootBootloader)
	case strings.HasPrefix(cmd, "oem "):
		return s.cmdOem(cmd[len("oem "):])
	case strings.HasPrefix(cmd, "download:"):
		return s.cmdDownload(cmd[len("download:"):])
	case cmd == "flash:run":
		return s.cmdFlashRun()
	default:
		return "FAILUnknown command"
	}
}

func (s *Server) cmdOem(rest string) string {
	name, args := splitFirst(rest)

	switch name {
	case "peek":
		return s.cmdPeek(args)
	case "poke":
		return s.cmdPoke(args)
	case "echo":
		return s.cmdEcho(args)
	case "alloc":
		return s.cmdAlloc(args, lmb.AllocAnywhere)
	case "alloc32":
		return s.cmdAlloc(args, lmb.Alloc32Bit)
	case "free":
		return s.cmdFree(args)
	case "smccc":
		return s.cmdSmccc(args)
	case "reboot":
		return s.cmdOemReboot(args)
	default:
		return "FAILUnknown command"
	}
}

func (s *Server) cmdEcho(args string) string {
	log.Print(args)
	s.endCommand("OKAY")
	return ""
}

// endCommand sends a terminating reply (OKAY/FAIL...) and clears in_command
// on completion.
func (s *Server) endCommand(status string) {
	s.inReq.Buffer = nil

	n := copy(s.inReq.SmallBuffer[:], status)
	s.inReq.SmallBuffer[n] = 0
	s.inReq.BufferLength = uint32(n + 1)
	s.inReq.Complete = s.endCommandComplete

	s.UDC.Submit(&s.inReq)
}

func (s *Server) endCommandComplete(req *usb.Request) {
	s.inCommand = false
}

// endCommandWithInfo sends an INFO reply, followed by a final OKAY once it
// has completed.
func (s *Server) endCommandWithInfo(format string, a ...interface{}) {
	msg := "INFO" + fmt.Sprintf(format, a...)

	s.inReq.Buffer = nil

	n := copy(s.inReq.SmallBuffer[:], msg)
	s.inReq.SmallBuffer[n] = 0
	s.inReq.BufferLength = uint32(n + 1)
	s.inReq.Complete = func(req *usb.Request) {
		if req.Error {
			return
		}

		s.endCommand("OKAY")
	}

	s.UDC.Submit(&s.inReq)
}

func (s *Server) cmdReboot(mode uint32) string {
	s.inReq.Buffer = nil
	n := copy(s.inReq.SmallBuffer[:], "OKAY")
	s.inReq.SmallBuffer[n] = 0
	s.inReq.BufferLength = uint32(n + 1)
	s.inReq.Complete = func(req *usb.Request) {
		s.inCommand = false

		if req.Error {
			return
		}

		s.UDC.Stop()

		if s.Reboot != nil {
			s.Reboot(mode)
		}
	}

	s.UDC.Submit(&s.inReq)

	return ""
}

func (s *Server) cmdOemReboot(args string) string {
	switch args {
	case "normal":
		return s.cmdReboot(RebootNormal)
	case "bootloader":
		return s.cmdReboot(RebootBootloader)
	case "rcm":
		return s.cmdReboot(RebootRCM)
	case "recovery":
		return s.cmdReboot(RebootRecovery)
	}

	val, rest, ok := strtoull(args)

	if !ok || rest != "" {
		return "FAILBad command"
	}

	return s.cmdReboot(uint32(val))
}

func (s *Server) cmdSmccc(args string) string {
	var inout [8]uint64

	rest := args

	for i := 0; i < len(inout); i++ {
		if rest == "" {
			break
		}

		v, r, ok := strtoull(rest)

		if !ok {
			return "FAILBad command"
		}

		inout[i] = v

		if r == "" {
			rest = r
			break
		}

		if r[0] != ' ' {
			return "FAILBad command"
		}

		rest = r[1:]
	}

	if s.SMC != nil {
		s.SMC(&inout)
	}

	s.endCommandWithInfo("0x%x 0x%x 0x%x 0x%x", inout[0], inout[1], inout[2], inout[3])

	return ""
}

func (s *Server) cmdAlloc(args string, max uint64) string {
	size, rest, ok := strtoull(args)

	if !ok || rest == "" || rest[0] != ' ' {
		return "FAILBad command"
	}

	rest = rest[1:]

	align, rest, ok := strtoull(rest)

	if !ok {
		return "FAILBad command"
	}

	typ := lmb.TypeBoot

	if rest != "" {
		if rest[0] != ' ' {
			return "FAILBad command"
		}

		switch rest[1:] {
		case "boot":
			typ = lmb.TypeBoot
		case "runtime":
			typ = lmb.TypeRuntime
		default:
			return "FAILBad command"
		}
	}

	addr := s.LMB.AllocBase(size, align, max, typ, lmb.NewTag("FBRQ"))

	if addr == 0 {
		return "FAILOut of memory"
	}

	s.endCommandWithInfo("0x%x", addr)

	return ""
}

func (s *Server) cmdFree(args string) string {
	addr, rest, ok := strtoull(args)

	if !ok || rest == "" || rest[0] != ' ' {
		return "FAILBad command"
	}

	size, rest, ok := strtoull(rest[1:])

	if !ok || rest == "" || rest[0] != ' ' {
		return "FAILBad command"
	}

	align, rest, ok := strtoull(rest[1:])

	if !ok || rest != "" {
		return "FAILBad command"
	}

	s.LMB.Free(addr, size, align)
	s.endCommand("OKAY")

	return ""
}

func splitFirst(s string) (first, rest string) {
	i := strings.IndexByte(s, ' ')

	if i < 0 {
		return s, ""
	}

	return s[:i], s[i+1:]
}

// strtoull parses a C-style (0x hex, 0 octal, else decimal) unsigned integer
// from the front of s, returning the value and the unconsumed remainder.
func strtoull(s string) (val uint64, rest string, ok bool) {
	i, base := 0, 10

	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		base, i = 16, 2
	case strings.HasPrefix(s, "0") && len(s) > 1:
		base, i = 8, 1
	}

	start := i

	for i < len(s) && isDigit(s[i], base) {
		i++
	}

	digits := s[start:i]

	if digits == "" {
		if base != 10 {
			// a lone "0" (or "0x" with no following digits, malformed)
			return 0, s[i:], base == 8
		}

		return 0, s, false
	}

	v, err := strconv.ParseUint(digits, base, 64)

	if err != nil {
		return 0, s, false
	}

	return v, s[i:], true
}

func isDigit(c byte, base int) bool {
	switch base {
	case 16:
		return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
	case 8:
		return c >= '0' && c <= '7'
	default:
		return c >= '0' && c <= '9'
	}
}

func isPrintableASCII(c byte) bool {
	return c >= 0x20 && c < 0x7f
}

func readMem(addr uint64, access int) uint64 {
	switch access {
	case 1:
		return uint64(reg.Read8(uint32(addr)))
	case 2:
		return uint64(reg.Read16(uint32(addr)))
	case 4:
		return uint64(reg.Read(uint32(addr)))
	default:
		return reg.Read64(addr)
	}
}

func writeMem(addr uint64, access int, val uint64) {
	switch access {
	case 1:
		reg.Write8(uint32(addr), uint8(val))
	case 2:
		reg.Write16(uint32(addr), uint16(val))
	case 4:
		reg.Write(uint32(addr), uint32(val))
	default:
		reg.Write64(addr, val)
	}
}
