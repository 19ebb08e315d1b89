// Fastboot oem peek/poke command handlers
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package fastboot

import (
	"fmt"
	"strings"

	"github.com/usbarmory/tamago/soc/nvidia/tegra/usb"
)

func parseAccess(s string) (access int, ascii bool, rest string, ok bool) {
	if strings.HasPrefix(s, "c") {
		return 1, true, s[1:], true
	}

	v, r, valid := strtoull(s)

	if !valid {
		return 0, false, s, false
	}

	access = int(v)

	switch access {
	case 1, 2, 4, 8:
		return access, false, r, true
	default:
		return 0, false, s, false
	}
}

func (s *Server) cmdPeek(args string) string {
	addr, rest, ok := strtoull(args)

	if !ok || rest == "" || rest[0] != ' ' {
		return "FAILBad command"
	}

	access, ascii, rest, ok := parseAccess(rest[1:])

	if !ok {
		return "FAILBad command"
	}

	items := uint64(1)

	if rest != "" {
		if rest[0] != ' ' {
			return "FAILBad command"
		}

		items, rest, ok = strtoull(rest[1:])

		if !ok {
			return "FAILBad command"
		}
	}

	if rest != "" {
		return "FAILBad command"
	}

	s.peek = &peekState{addr: addr, access: access, ascii: ascii, items: int(items)}
	s.peekExec(nil)

	return ""
}

// peekExec emits the next chunk of a streaming peek reply; it re-invokes
// itself from the previous chunk's IN completion until items reaches zero
// (4.3, "oem peek").
func (s *Server) peekExec(req *usb.Request) {
	if req != nil && req.Error {
		return
	}

	p := s.peek

	capacity := len(s.inReq.SmallBuffer) - 4 - 1
	itemSize := p.access*2 + 1
	items := capacity / itemSize

	if items > p.items {
		items = p.items
	}

	if items == 0 {
		s.endCommand("OKAY")
		return
	}

	p.items -= items

	var b strings.Builder
	b.WriteString("INFO")

	for ; items > 0; items-- {
		value := readMem(p.addr, p.access)
		p.addr += uint64(p.access)

		if p.ascii && isPrintableASCII(byte(value)) {
			fmt.Fprintf(&b, " %c ", byte(value))
		} else {
			fmt.Fprintf(&b, "%0*x ", p.access*2, value)
		}
	}

	out := b.String()

	s.inReq.Buffer = nil
	n := copy(s.inReq.SmallBuffer[:], out)
	s.inReq.SmallBuffer[n] = 0
	s.inReq.BufferLength = uint32(n + 1)
	s.inReq.Complete = s.peekExec

	s.UDC.Submit(&s.inReq)
}

func (s *Server) cmdPoke(args string) string {
	addr, rest, ok := strtoull(args)

	if !ok || rest == "" || rest[0] != ' ' {
		return "FAILBad command"
	}

	access, ascii, rest, ok := parseAccess(rest[1:])

	if !ok {
		return "FAILBad command"
	}

	if rest == "" || rest[0] != ' ' {
		return "FAILBad command"
	}

	rest = rest[1:]

	if ascii {
		for i := 0; i < len(rest); i++ {
			writeMem(addr, 1, uint64(rest[i]))
			addr++
		}

		s.endCommand("OKAY")
		return ""
	}

	for rest != "" {
		v, r, valid := strtoull(rest)

		if !valid {
			return "FAILBad command"
		}

		writeMem(addr, access, v)
		addr += uint64(access)

		if r != "" && r[0] == ' ' {
			r = r[1:]
		} else if r != "" {
			return "FAILBad command"
		}

		rest = r
	}

	s.endCommand("OKAY")

	return ""
}
